package shared

import "context"

// VetoHook can block an operation before the first write happens. Returning
// an error aborts the whole operation.
type VetoHook[T any] func(ctx context.Context, payload T) error

// ObserverHook is notified after the fact with a detached snapshot. Errors
// are ignored; observers cannot mutate in-progress state.
type ObserverHook[T any] func(ctx context.Context, payload T)

// Hooks holds the ordered extension points for one lifecycle event.
type Hooks[T any] struct {
	vetoes    []VetoHook[T]
	observers []ObserverHook[T]
}

// RegisterVeto appends a veto-capable hook. Hooks run in registration order.
func (h *Hooks[T]) RegisterVeto(fn VetoHook[T]) {
	h.vetoes = append(h.vetoes, fn)
}

// Register appends a fire-and-forget observer.
func (h *Hooks[T]) Register(fn ObserverHook[T]) {
	h.observers = append(h.observers, fn)
}

// Check runs the veto hooks in order and returns the first error.
func (h *Hooks[T]) Check(ctx context.Context, payload T) error {
	if h == nil {
		return nil
	}
	for _, fn := range h.vetoes {
		if err := fn(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// Notify runs every observer synchronously.
func (h *Hooks[T]) Notify(ctx context.Context, payload T) {
	if h == nil {
		return
	}
	for _, fn := range h.observers {
		fn(ctx, payload)
	}
}
