package providers

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// taskIDKey is the context key WithTaskID mints one UUID under, used as
// Go's substitute for a native per-task identifier (Go has no
// tokio::task::Id equivalent). It is separate from routing.WithTaskID's key.
type taskIDKey struct{}

// WithTaskID returns a context carrying a fresh task-scoped routing token.
func WithTaskID(ctx context.Context) context.Context {
	return context.WithValue(ctx, taskIDKey{}, uuid.New())
}

// taskIDFrom extracts the task id bound to ctx, or the zero UUID if none was
// minted (falls back to the recorder's global slot).
func taskIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(taskIDKey{}).(uuid.UUID)
	return id, ok
}

// taskRouteMapCapacity is the capacity guard: if routedForTask exceeds this
// many pending entries, the whole map is evicted rather than grown
// unbounded (protects against leakage when tasks are cancelled
// or panic between bind and read).
const taskRouteMapCapacity = 4096

// taskRouteRecorder binds a "which model/tier served this task" decision to
// a task id at request time and removes the entry when the caller reads it
// back via EffectiveModelName - this breaks any reference cycle between the
// router and the caller. The guarding mutex is short and never
// held across I/O; all critical sections are pure in-memory map operations
// the active route before a reasoning turn issues its first call.
type taskRouteRecorder struct {
	mu        sync.Mutex
	routed    map[uuid.UUID]string
	lastValue string // global fallback for the no-task-identifier case
}

func newTaskRouteRecorder() *taskRouteRecorder {
	return &taskRouteRecorder{routed: make(map[uuid.UUID]string)}
}

// record binds value to the task id carried on ctx (if any) and always
// updates the global fallback slot.
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

// take reads back and clears the binding for ctx's task id, or returns
// fallback when no task-scoped entry exists.
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
