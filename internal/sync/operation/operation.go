// Package operation defines the typed operation kinds carried by the sync
// queue and a registry that decodes and validates their payloads.
//
// Kinds that are not registered still flow through the queue as opaque JSON.
package operation

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kimhsiao/kiosksync/internal/errors"
)

// Operation is a typed queue payload.
type Operation interface {
	Kind() string
	Validate() error
}

// Factory returns a zero value of an operation kind for decoding.
type Factory func() Operation

// Registry maps kinds to their payload types.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in kiosk operations.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindAttendance, func() Operation { return &Attendance{} })
	r.MustRegister(KindEnrollment, func() Operation { return &Enrollment{} })
	return r
}

// Register adds a kind. Registering a kind twice is an error.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return errors.New(errors.ErrInvalid, "operation kind and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("operation kind %q already registered", kind))
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(kind string, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// Known reports whether kind has a registered payload type.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Decode parses data as the payload of kind and validates it.
// Fields not declared by the payload type are ignored.
func (r *Registry) Decode(kind string, data json.RawMessage) (Operation, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrUnknownOperation, fmt.Sprintf("unknown operation kind %q", kind))
	}

	op := f()
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if err := json.Unmarshal(data, op); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, fmt.Sprintf("decode %s payload", kind), err)
	}
	if err := op.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, fmt.Sprintf("invalid %s payload", kind), err)
	}
	return op, nil
}

// Encode returns the kind and JSON payload of op after validating it.
func Encode(op Operation) (string, json.RawMessage, error) {
	if err := op.Validate(); err != nil {
		return "", nil, errors.Wrap(errors.ErrValidation, fmt.Sprintf("invalid %s payload", op.Kind()), err)
	}
	data, err := json.Marshal(op)
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrInternal, "encode operation", err)
	}
	return op.Kind(), data, nil
}
