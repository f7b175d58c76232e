package routing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// taskIDKey is the routing package's own task-scoped context key - Go's
// substitute for a tokio::task::Id. The caller mints one per turn via
// WithTaskID before the turn reaches the SmartRouter (ReasoningLoop.Run
// does not mint one itself; without it, the recorder's global slot answers); this is
// independent of any task id the wire adapters mint for their own
// EffectiveModelName bookkeeping, since the reasoning loop only ever talks
// to the outermost decorator.
type taskIDKey struct{}

// WithTaskID returns a context carrying a fresh task-scoped routing token.
func WithTaskID(ctx context.Context) context.Context {
	return context.WithValue(ctx, taskIDKey{}, uuid.New())
}

func taskIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(taskIDKey{}).(uuid.UUID)
	return id, ok
}

// taskRouteMapCapacity guards against unbounded growth if tasks are
// cancelled or panic between bind and read.
const taskRouteMapCapacity = 4096

// taskRouteRecorder binds "which model actually served this task" to a task
// id at request time, and clears the entry when read back.
type taskRouteRecorder struct {
	mu        sync.Mutex
	routed    map[uuid.UUID]string
	lastValue string
}

func newTaskRouteRecorder() *taskRouteRecorder {
	return &taskRouteRecorder{routed: make(map[uuid.UUID]string)}
}

func (r *taskRouteRecorder) record(ctx context.Context, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastValue = value
	if id, ok := taskIDFrom(ctx); ok {
		if len(r.routed) >= taskRouteMapCapacity {
			r.routed = make(map[uuid.UUID]string)
		}
		r.routed[id] = value
	}
}

func (r *taskRouteRecorder) take(ctx context.Context, fallback string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := taskIDFrom(ctx); ok {
		if v, found := r.routed[id]; found {
			delete(r.routed, id)
			return v
		}
	}
	if r.lastValue != "" {
		return r.lastValue
	}
	return fallback
}
