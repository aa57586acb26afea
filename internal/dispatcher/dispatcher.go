// Package dispatcher routes job kinds to the executors that perform their
// work. The orchestrator only ever sees "execute kind K with config C for
// project P" and a summary or an error back.
package dispatcher

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

var ErrUnknownKind = errors.New("no executor registered for job kind")

// Handler performs one job kind.
type Handler interface {
	Execute(ctx context.Context, kind domain.JobKind, cfg domain.JobConfig, project domain.ProjectContext) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, kind domain.JobKind, cfg domain.JobConfig, project domain.ProjectContext) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, kind domain.JobKind, cfg domain.JobConfig, project domain.ProjectContext) (string, error) {
	return f(ctx, kind, cfg, project)
}

// Registry maps job kinds to handlers. A Fallback, if set, serves every kind
// without a dedicated handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobKind]Handler
	fallback Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobKind]Handler)}
}

// Register binds kind to h, replacing any earlier binding.
func (r *Registry) Register(kind domain.JobKind, h Handler) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
	return r
}

// WithFallback sets the handler used for kinds without a binding.
func (r *Registry) WithFallback(h Handler) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
	return r
}

// Kinds returns the kinds with a dedicated handler.
func (r *Registry) Kinds() []domain.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.JobKind, 0, len(r.handlers))
	for _, k := range domain.Kinds {
		if _, ok := r.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Execute runs the handler for kind. The config must belong to kind.
func (r *Registry) Execute(ctx context.Context, kind domain.JobKind, cfg domain.JobConfig, project domain.ProjectContext) (string, error) {
	if cfg == nil || cfg.Kind() != kind {
		return "", errors.Newf("config does not match job kind %s", kind)
	}
	r.mu.RLock()
	h, ok := r.handlers[kind]
	if !ok {
		h = r.fallback
	}
	r.mu.RUnlock()
	if h == nil {
		return "", errors.Wrapf(ErrUnknownKind, "kind %s", kind)
	}
	return h.Execute(ctx, kind, cfg, project)
}

// LogHandler acknowledges every job without doing work. It backs local
// setups that have no job worker configured.
func LogHandler(logger *zap.Logger) Handler {
	return HandlerFunc(func(_ context.Context, kind domain.JobKind, _ domain.JobConfig, project domain.ProjectContext) (string, error) {
		logger.Info("dispatcher: job accepted without worker",
			zap.String("kind", string(kind)),
			zap.String("project_id", project.ProjectID.String()))
		return "accepted " + string(kind), nil
	})
}
