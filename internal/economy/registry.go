package economy

import (
	"errors"
	"sync/atomic"
)

var ErrNotRegistered = errors.New("economy: no provider registered")

var current atomic.Pointer[Facade]

// Register makes f the process-wide economy, replacing any previous one.
func Register(f *Facade) {
	current.Store(f)
}

// Unregister clears the registration only if f is still the registered one.
func Unregister(f *Facade) bool {
	return current.CompareAndSwap(f, nil)
}

// Current returns the registered economy.
func Current() (*Facade, error) {
	f := current.Load()
	if f == nil {
		return nil, ErrNotRegistered
	}
	return f, nil
}

func IsRegistered() bool { return current.Load() != nil }
