package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/ops"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func audioPipeline(t *testing.T, operations string) *ops.Pipeline {
	t.Helper()
	specs, err := ops.Parse(ops.MediaAudio, operations)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pl, err := ops.Validate(ops.MediaAudio, specs, "in.wav")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return pl
}

func TestRun_ThreadsContextThroughStages(t *testing.T) {
	var calls []string
	h := HandlerFunc(func(_ context.Context, pc Context, p ops.Params) (Context, error) {
		calls = append(calls, p.Str("f"))
		pc.Artifact = append(pc.Artifact, byte(len(calls)))
		return pc, nil
	})

	ex := NewExecutor(NewRegistry(ops.MediaAudio, map[string]Handler{ops.OpConvert: h}))
	pl := audioPipeline(t, "convert,f_flac/convert,f_mp3")

	res, err := ex.Run(context.Background(), Context{Artifact: []byte{0}}, pl)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(calls) != 2 || calls[0] != "flac" || calls[1] != "mp3" {
		t.Errorf("stages ran out of order: %v", calls)
	}
	if len(res.Body) != 3 {
		t.Errorf("handler output was not threaded: %d bytes", len(res.Body))
	}
	if res.ContentType != "audio/mpeg" {
		t.Errorf("content type: got %q, want audio/mpeg", res.ContentType)
	}
}

func TestRun_FailureBecomesExecutionError(t *testing.T) {
	boom := errors.New("decode failed")
	h := HandlerFunc(func(_ context.Context, pc Context, _ ops.Params) (Context, error) {
		return Context{}, boom
	})

	ex := NewExecutor(NewRegistry(ops.MediaAudio, map[string]Handler{ops.OpConvert: h}))
	pl := audioPipeline(t, "convert,f_mp3")

	_, err := ex.Run(context.Background(), Context{}, pl)

	var exErr *ExecutionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *ExecutionError, got %T: %v", err, err)
	}
	if exErr.Stage != 0 || exErr.Op != ops.OpConvert {
		t.Errorf("error identity: got stage=%d op=%q", exErr.Stage, exErr.Op)
	}
	if !errors.Is(err, boom) {
		t.Error("cause is not preserved through Unwrap")
	}
}

func TestRun_AbortsAfterFailedStage(t *testing.T) {
	calls := 0
	h := HandlerFunc(func(_ context.Context, pc Context, _ ops.Params) (Context, error) {
		calls++
		return Context{}, fmt.Errorf("stage %d failed", calls)
	})

	ex := NewExecutor(NewRegistry(ops.MediaAudio, map[string]Handler{ops.OpConvert: h}))
	pl := audioPipeline(t, "convert,f_mp3/convert,f_flac")

	if _, err := ex.Run(context.Background(), Context{}, pl); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("stages after a failure still ran: %d calls", calls)
	}
}

func TestRun_ContextExpiryIsNotExecutionError(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, pc Context, _ ops.Params) (Context, error) {
		<-ctx.Done()
		return Context{}, ctx.Err()
	})

	ex := NewExecutor(NewRegistry(ops.MediaAudio, map[string]Handler{ops.OpConvert: h}))
	pl := audioPipeline(t, "convert,f_mp3")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ex.Run(ctx, Context{}, pl)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	var exErr *ExecutionError
	if errors.As(err, &exErr) {
		t.Error("deadline expiry must not be wrapped as an ExecutionError")
	}
}

func TestRun_Fingerprint(t *testing.T) {
	h := HandlerFunc(func(_ context.Context, pc Context, _ ops.Params) (Context, error) {
		pc.Artifact = []byte("hello")
		return pc, nil
	})

	ex := NewExecutor(NewRegistry(ops.MediaAudio, map[string]Handler{ops.OpConvert: h}))
	pl := audioPipeline(t, "convert,f_mp3")

	res, err := ex.Run(context.Background(), Context{}, pl)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// md5("hello")
	if res.ETag != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("fingerprint: got %q", res.ETag)
	}
}

func TestNewRegistry_RejectsIncompleteHandlerSet(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing handler")
		}
	}()
	NewRegistry(ops.MediaImage, map[string]Handler{})
}

func TestNewRegistry_RejectsUnknownOperation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for handler outside the namespace")
		}
	}()
	h := HandlerFunc(func(_ context.Context, pc Context, _ ops.Params) (Context, error) { return pc, nil })
	NewRegistry(ops.MediaAudio, map[string]Handler{ops.OpConvert: h, "transcode": h})
}
