package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOperationInFlight is returned when the same operation is already running
// against the same target.
var ErrOperationInFlight = errors.New("operation already in flight")

type inFlightRegistry struct {
	keys sync.Map
}

func newInFlightRegistry() *inFlightRegistry {
	return &inFlightRegistry{}
}

func inFlightKey(operation, target string) string {
	return fmt.Sprintf("%s:%s", operation, target)
}

// acquire marks operation/target as running. The returned release func must
// be called on every exit path.
func (r *inFlightRegistry) acquire(operation, target string) (func(), error) {
	key := inFlightKey(operation, target)
	if _, loaded := r.keys.LoadOrStore(key, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: %s", ErrOperationInFlight, key)
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.keys.Delete(key) })
	}, nil
}

func (r *inFlightRegistry) running(operation, target string) bool {
	_, ok := r.keys.Load(inFlightKey(operation, target))
	return ok
}
