package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/model"
	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
	"github.com/medialens/mediaproc/internal/repository/task"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    map[string]string // key -> content type
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte), puts: make(map[string]string)}
}

func (f *fakeStorage) Fetch(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeStorage) Put(_ context.Context, bucket, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	f.puts[bucket+"/"+key] = contentType
	return nil
}

type fakeRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]model.Task
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tasks: make(map[uuid.UUID]model.Task)}
}

func (f *fakeRepo) Create(_ context.Context, t model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id uuid.UUID) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return model.Task{}, task.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeRepo) finish(id uuid.UUID, status model.TaskStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return task.ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return task.ErrTaskTerminal
	}
	t.Status = status
	t.ErrorMessage = errMsg
	t.UpdatedAt = time.Now()
	f.tasks[id] = t
	return nil
}

func (f *fakeRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	return f.finish(id, model.StatusCompleted, "")
}

func (f *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	return f.finish(id, model.StatusFailed, errMsg)
}

type fakeCache struct {
	mu      sync.Mutex
	records map[uuid.UUID]model.Task
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[uuid.UUID]model.Task)}
}

func (f *fakeCache) Get(_ context.Context, id uuid.UUID) (model.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.records[id]
	return t, ok
}

func (f *fakeCache) Set(_ context.Context, t model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[t.ID] = t
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeCache) has(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok
}

type fakeProducer struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeProducer) Produce(_ context.Context, _, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, value)
	return nil
}

type fixture struct {
	storage  *fakeStorage
	repo     *fakeRepo
	cache    *fakeCache
	producer *fakeProducer
	service  *Service
}

func newFixture(t *testing.T, h pipeline.Handler) *fixture {
	t.Helper()
	return newFixtureFor(t, ops.MediaAudio, h)
}

func newFixtureFor(t *testing.T, media ops.MediaType, h pipeline.Handler) *fixture {
	t.Helper()
	if h == nil {
		h = pipeline.HandlerFunc(func(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
			pc.Artifact = append([]byte("converted:"), pc.Artifact...)
			if p.Has("f") {
				pc.Meta.Format = p.Str("f")
			}
			return pc, nil
		})
	}

	f := &fixture{
		storage:  newFakeStorage(),
		repo:     newFakeRepo(),
		cache:    newFakeCache(),
		producer: &fakeProducer{},
	}
	ex := pipeline.NewExecutor(pipeline.NewRegistry(media, map[string]pipeline.Handler{ops.OpConvert: h}))
	f.service = NewService(f.storage, f.repo, f.cache, f.producer, ex, Buckets{Source: "src", Target: "dst"})
	return f
}

func TestProcess_Sync(t *testing.T) {
	f := newFixture(t, nil)
	f.storage.objects["src/in.wav"] = []byte("pcm")

	res, err := f.service.Process(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if string(res.Body) != "converted:pcm" {
		t.Errorf("unexpected body: %q", res.Body)
	}
	if res.ContentType != "audio/mpeg" {
		t.Errorf("content type: got %q", res.ContentType)
	}
	if res.ETag == "" {
		t.Error("missing fingerprint")
	}
}

func TestProcess_ValidationErrorSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	f.storage.objects["src/in.wav"] = []byte("pcm")

	_, err := f.service.Process(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3,aq_50,ab_128000")
	var verr *ops.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ops.ValidationError, got %T: %v", err, err)
	}
	if len(f.storage.puts) != 0 {
		t.Error("nothing should be written for an invalid request")
	}
}

func TestSubmit_CreatesProcessingTaskAndEnqueues(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	rec, err := f.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("task record missing: %v", err)
	}
	if rec.Status != model.StatusProcessing {
		t.Errorf("status: got %q, want processing", rec.Status)
	}
	if !strings.HasSuffix(rec.TargetKey, ".mp3") {
		t.Errorf("target key should carry the output format: %q", rec.TargetKey)
	}

	if len(f.producer.messages) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(f.producer.messages))
	}
	var msg model.TaskMessage
	if err := json.Unmarshal(f.producer.messages[0], &msg); err != nil {
		t.Fatalf("queued message is not a TaskMessage: %v", err)
	}
	if msg.TaskID != id || msg.Operations != "convert,f_mp3" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestSubmit_InvalidOperationsStillGetsTaskID(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3,ar_12345")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	rec, err := f.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("task record missing: %v", err)
	}
	if rec.Status != model.StatusFailed {
		t.Errorf("status: got %q, want failed", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Error("failed task should carry the validation message")
	}
	if len(f.producer.messages) != 0 {
		t.Error("invalid task must not be enqueued")
	}
}

func TestRun_CompletesTask(t *testing.T) {
	f := newFixture(t, nil)
	f.storage.objects["src/in.wav"] = []byte("pcm")

	id, err := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	var msg model.TaskMessage
	if err := json.Unmarshal(f.producer.messages[0], &msg); err != nil {
		t.Fatal(err)
	}

	if err := f.service.Run(context.Background(), msg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec, _ := f.repo.Get(context.Background(), id)
	if rec.Status != model.StatusCompleted {
		t.Errorf("status: got %q, want completed", rec.Status)
	}
	if got := f.storage.objects["dst/"+msg.TargetKey]; string(got) != "converted:pcm" {
		t.Errorf("artifact not stored: %q", got)
	}
	if ct := f.storage.puts["dst/"+msg.TargetKey]; ct != "audio/mpeg" {
		t.Errorf("stored content type: got %q", ct)
	}
}

func TestRun_HandlerFailureMarksFailed(t *testing.T) {
	boom := pipeline.HandlerFunc(func(_ context.Context, pc pipeline.Context, _ ops.Params) (pipeline.Context, error) {
		return pipeline.Context{}, errors.New("codec exploded")
	})
	f := newFixture(t, boom)
	f.storage.objects["src/in.wav"] = []byte("pcm")

	id, _ := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")
	var msg model.TaskMessage
	_ = json.Unmarshal(f.producer.messages[0], &msg)

	if err := f.service.Run(context.Background(), msg); err != nil {
		t.Fatalf("handler failure is handled, Run should not error: %v", err)
	}

	rec, _ := f.repo.Get(context.Background(), id)
	if rec.Status != model.StatusFailed {
		t.Errorf("status: got %q, want failed", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "codec exploded") {
		t.Errorf("error message lost: %q", rec.ErrorMessage)
	}
}

func TestRun_DeadlinePropagates(t *testing.T) {
	slow := pipeline.HandlerFunc(func(ctx context.Context, pc pipeline.Context, _ ops.Params) (pipeline.Context, error) {
		<-ctx.Done()
		return pipeline.Context{}, ctx.Err()
	})
	f := newFixture(t, slow)
	f.storage.objects["src/in.wav"] = []byte("pcm")

	id, _ := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")
	var msg model.TaskMessage
	_ = json.Unmarshal(f.producer.messages[0], &msg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.service.Run(ctx, msg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// The task stays in processing: convergence belongs to the dead-letter
	// consumer, not the worker.
	rec, _ := f.repo.Get(context.Background(), id)
	if rec.Status != model.StatusProcessing {
		t.Errorf("status: got %q, want processing", rec.Status)
	}
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	f := newFixture(t, nil)
	f.storage.objects["src/in.wav"] = []byte("pcm")

	id, _ := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")
	var msg model.TaskMessage
	_ = json.Unmarshal(f.producer.messages[0], &msg)

	if err := f.service.Run(context.Background(), msg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := f.repo.MarkFailed(context.Background(), id, "late failure"); !errors.Is(err, task.ErrTaskTerminal) {
		t.Fatalf("expected ErrTaskTerminal, got %v", err)
	}

	rec, _ := f.repo.Get(context.Background(), id)
	if rec.Status != model.StatusCompleted {
		t.Errorf("terminal status changed: %q", rec.Status)
	}
}

func TestStatus_NotFoundIsDistinct(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.Status(context.Background(), uuid.New())
	if !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestStatus_ServedFromCacheWhileProcessing(t *testing.T) {
	f := newFixture(t, nil)

	id, _ := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")

	// Remove the record to prove the poll is answered by the cache.
	f.repo.mu.Lock()
	delete(f.repo.tasks, id)
	f.repo.mu.Unlock()

	rec, err := f.service.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if rec.Status != model.StatusProcessing {
		t.Errorf("status: got %q, want processing", rec.Status)
	}
	// The cache holds the record, not just the status tag.
	if rec.SourceKey != "in.wav" || rec.SourceBucket != "src" {
		t.Errorf("cached poll lost record fields: %+v", rec)
	}
	if !strings.HasSuffix(rec.TargetKey, ".mp3") {
		t.Errorf("cached poll lost target key: %q", rec.TargetKey)
	}
}

func TestStatus_CacheDroppedOnCompletion(t *testing.T) {
	f := newFixture(t, nil)
	f.storage.objects["src/in.wav"] = []byte("pcm")

	id, _ := f.service.Submit(context.Background(), ops.MediaAudio, "in.wav", "convert,f_mp3")
	if !f.cache.has(id) {
		t.Fatal("submission should cache the processing record")
	}

	var msg model.TaskMessage
	_ = json.Unmarshal(f.producer.messages[0], &msg)
	if err := f.service.Run(context.Background(), msg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if f.cache.has(id) {
		t.Error("completion should invalidate the cached record")
	}

	rec, err := f.service.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if rec.Status != model.StatusCompleted {
		t.Errorf("status: got %q, want completed", rec.Status)
	}
	if !f.cache.has(id) {
		t.Error("the terminal poll should repopulate the cache")
	}
}

func TestSubmit_BucketOverride(t *testing.T) {
	f := newFixtureFor(t, ops.MediaDocument, nil)
	f.storage.objects["src/q3.docx"] = []byte("doc")

	ref := base64.RawURLEncoding.EncodeToString([]byte("reports-out"))
	operations := "convert,source_docx,target_pdf,b_" + ref

	id, err := f.service.Submit(context.Background(), ops.MediaDocument, "q3.docx", operations)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	rec, _ := f.repo.Get(context.Background(), id)
	if rec.TargetBucket != "reports-out" {
		t.Errorf("target bucket: got %q, want reports-out", rec.TargetBucket)
	}

	var msg model.TaskMessage
	if err := json.Unmarshal(f.producer.messages[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.TargetBucket != "reports-out" {
		t.Errorf("message target bucket: got %q, want reports-out", msg.TargetBucket)
	}

	if err := f.service.Run(context.Background(), msg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := f.storage.objects["reports-out/"+msg.TargetKey]; !ok {
		t.Error("artifact should land in the overridden bucket")
	}
	if _, ok := f.storage.objects["dst/"+msg.TargetKey]; ok {
		t.Error("nothing should be written to the default target bucket")
	}
}
