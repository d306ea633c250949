package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/ops"
)

// Meta carries the media-specific descriptors that travel with the artifact
// through the stage chain. Handlers update only the fields they know about.
type Meta struct {
	Format     string
	Width      int
	Height     int
	DurationMS int
	SampleRate int
	Channels   int
}

// Context is the evolving state threaded through the pipeline: the artifact
// bytes after the most recent stage, plus their metadata.
type Context struct {
	Artifact []byte
	Meta     Meta
}

// Handler applies one operation to the pipeline context. Handlers are
// external collaborators; the executor's only contract with them is
// sequencing, context propagation and uniform failure translation.
type Handler interface {
	Apply(ctx context.Context, pc Context, params ops.Params) (Context, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, pc Context, params ops.Params) (Context, error)

func (f HandlerFunc) Apply(ctx context.Context, pc Context, params ops.Params) (Context, error) {
	return f(ctx, pc, params)
}

// ExecutionError wraps a handler failure with the failing stage's index and
// operation name. Remaining stages are never attempted after one.
type ExecutionError struct {
	Stage int
	Op    string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute stage %d (%s): %v", e.Stage, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Result is the outcome of a successful pipeline run: the final artifact,
// the content type implied by the output format, and a digest over the
// output bytes for use as an ETag.
type Result struct {
	Body        []byte
	ContentType string
	ETag        string
}

// Registry is the closed dispatch table for one media type. It is built once
// at startup from the namespace's fixed operation set; there is no runtime
// registration.
type Registry struct {
	media    ops.MediaType
	handlers map[string]Handler
}

// NewRegistry builds a registry and checks it against the namespace: every
// operation of the media type must have exactly one handler, so a gap is a
// programming error caught at startup rather than a runtime miss.
func NewRegistry(media ops.MediaType, handlers map[string]Handler) *Registry {
	ns, ok := ops.Lookup(media)
	if !ok {
		panic(fmt.Sprintf("pipeline: unknown media type %q", media))
	}
	for name := range ns.Ops {
		if _, ok := handlers[name]; !ok {
			panic(fmt.Sprintf("pipeline: %s has no handler for operation %q", media, name))
		}
	}
	for name := range handlers {
		if _, ok := ns.Ops[name]; !ok {
			panic(fmt.Sprintf("pipeline: %s handler %q is not in the namespace", media, name))
		}
	}
	return &Registry{media: media, handlers: handlers}
}

// Executor runs validated pipelines against a set of per-media registries.
type Executor struct {
	registries map[ops.MediaType]*Registry
}

// NewExecutor collects the registries the executor dispatches across.
func NewExecutor(registries ...*Registry) *Executor {
	m := make(map[ops.MediaType]*Registry, len(registries))
	for _, r := range registries {
		m[r.media] = r
	}
	return &Executor{registries: m}
}

// Run applies the pipeline's stages strictly in their validated order,
// replacing the context with each handler's output. Any handler failure
// becomes an ExecutionError carrying the stage index and aborts the rest;
// context cancellation (the wall-clock processing window) is passed through unwrapped so
// the caller can tell an infrastructure cutoff from a handler fault.
func (e *Executor) Run(ctx context.Context, pc Context, p *ops.Pipeline) (Result, error) {
	reg, ok := e.registries[p.Media]
	if !ok {
		return Result{}, fmt.Errorf("no registry for media type %s", p.Media)
	}

	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		h := reg.handlers[stage.Name]
		next, err := h.Apply(ctx, pc, stage.Params)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, &ExecutionError{Stage: stage.Position, Op: stage.Name, Err: err}
		}
		pc = next

		zlog.Logger.Debug().
			Str("op", stage.Name).
			Int("stage", stage.Position).
			Int("bytes", len(pc.Artifact)).
			Msg("stage applied")
	}

	sum := md5.Sum(pc.Artifact)
	return Result{
		Body:        pc.Artifact,
		ContentType: p.ContentType(),
		ETag:        hex.EncodeToString(sum[:]),
	}, nil
}
