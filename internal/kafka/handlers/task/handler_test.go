package task

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/model"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeService struct {
	runFunc func(ctx context.Context, msg model.TaskMessage) error
}

func (f *fakeService) Run(ctx context.Context, msg model.TaskMessage) error {
	return f.runFunc(ctx, msg)
}

type fakeProducer struct {
	messages [][]byte
}

func (f *fakeProducer) Produce(_ context.Context, _, value []byte) error {
	f.messages = append(f.messages, value)
	return nil
}

func taskMessage(t *testing.T) (model.TaskMessage, kafka.Message) {
	t.Helper()
	tm := model.TaskMessage{
		TaskID:     uuid.New(),
		MediaType:  "audio",
		SourceKey:  "in.wav",
		TargetKey:  "processed/in.mp3",
		Operations: "convert,f_mp3",
	}
	data, err := json.Marshal(tm)
	if err != nil {
		t.Fatal(err)
	}
	return tm, kafka.Message{Key: []byte(tm.TaskID.String()), Value: data}
}

func TestHandle_RunsTask(t *testing.T) {
	var got model.TaskMessage
	svc := &fakeService{runFunc: func(_ context.Context, msg model.TaskMessage) error {
		got = msg
		return nil
	}}
	dlq := &fakeProducer{}
	h := NewHandler(svc, dlq, time.Second)

	want, msg := taskMessage(t)
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if got.TaskID != want.TaskID || got.Operations != want.Operations {
		t.Errorf("service received %+v, want %+v", got, want)
	}
	if len(dlq.messages) != 0 {
		t.Error("successful task must not be dead-lettered")
	}
}

func TestHandle_TimeoutForwardsToDeadLetter(t *testing.T) {
	svc := &fakeService{runFunc: func(ctx context.Context, _ model.TaskMessage) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	dlq := &fakeProducer{}
	h := NewHandler(svc, dlq, 10*time.Millisecond)

	_, msg := taskMessage(t)
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("a dead-lettered task is handled, got %v", err)
	}

	if len(dlq.messages) != 1 {
		t.Fatalf("expected 1 dead letter message, got %d", len(dlq.messages))
	}
	// The message is forwarded verbatim.
	if string(dlq.messages[0]) != string(msg.Value) {
		t.Error("dead letter payload differs from the original message")
	}
}

func TestHandle_ServiceErrorSurfaces(t *testing.T) {
	boom := errors.New("db down")
	svc := &fakeService{runFunc: func(_ context.Context, _ model.TaskMessage) error {
		return boom
	}}
	dlq := &fakeProducer{}
	h := NewHandler(svc, dlq, time.Second)

	_, msg := taskMessage(t)
	if err := h.Handle(context.Background(), msg); !errors.Is(err, boom) {
		t.Fatalf("expected the service error, got %v", err)
	}
	if len(dlq.messages) != 0 {
		t.Error("infrastructure failures must not be dead-lettered")
	}
}
