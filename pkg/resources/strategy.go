package resources

import (
	"context"
	"fmt"
	"io"
)

// Type tags a tracked resource. The set is closed; each type has one release strategy.
type Type string

const (
	TypeConnection Type = "connection"
	TypeFile       Type = "file"
	TypeMemory     Type = "memory"
	TypeTimer      Type = "timer"
)

// AllTypes returns every resource type
func AllTypes() []Type {
	return []Type{TypeConnection, TypeFile, TypeMemory, TypeTimer}
}

// ReleaseStrategy releases the handle of one resource type
type ReleaseStrategy interface {
	Release(ctx context.Context, r *Resource) error
}

// ReleaseFunc adapts a function to ReleaseStrategy
type ReleaseFunc func(ctx context.Context, r *Resource) error

// Release calls f
func (f ReleaseFunc) Release(ctx context.Context, r *Resource) error {
	return f(ctx, r)
}

// Freer is implemented by memory handles
type Freer interface {
	Free()
}

// Stopper is implemented by timer-like handles
type Stopper interface {
	Stop()
}

// closerStrategy releases connections and files
type closerStrategy struct {
	kind Type
}

func (s closerStrategy) Release(_ context.Context, r *Resource) error {
	closer, ok := r.Handle.(io.Closer)
	if !ok {
		return fmt.Errorf("%s resource %s: handle %T does not implement io.Closer", s.kind, r.ID, r.Handle)
	}
	return closer.Close()
}

// memoryStrategy releases memory blocks
type memoryStrategy struct{}

func (memoryStrategy) Release(_ context.Context, r *Resource) error {
	switch h := r.Handle.(type) {
	case Freer:
		h.Free()
	case func():
		h()
	case nil:
		// nothing held beyond the tracking entry
	default:
		return fmt.Errorf("memory resource %s: unsupported handle %T", r.ID, r.Handle)
	}
	return nil
}

// timerStrategy stops monitors and timers
type timerStrategy struct{}

func (timerStrategy) Release(_ context.Context, r *Resource) error {
	switch h := r.Handle.(type) {
	case Stopper:
		h.Stop()
	case func():
		h()
	default:
		return fmt.Errorf("timer resource %s: unsupported handle %T", r.ID, r.Handle)
	}
	return nil
}

// defaultStrategies returns the built-in strategy per type
func defaultStrategies() map[Type]ReleaseStrategy {
	return map[Type]ReleaseStrategy{
		TypeConnection: closerStrategy{kind: TypeConnection},
		TypeFile:       closerStrategy{kind: TypeFile},
		TypeMemory:     memoryStrategy{},
		TypeTimer:      timerStrategy{},
	}
}
