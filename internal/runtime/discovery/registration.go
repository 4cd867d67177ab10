// Package discovery holds the registered-consumer record shared by explicit
// registration and directory discovery, plus the init-time catalog that
// packages declare their consumers into.
package discovery

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/drblury/eventscore/event"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
)

// DefaultClones is used when a registration does not set a clone count.
const DefaultClones = 1

// Registration is a consumer function together with where it listens.
type Registration struct {
	Func     func(context.Context, event.Event) error
	Event    event.Type
	Group    event.Group
	Clones   int
	Identity string
	// Package is the Go import path the function was declared in. Empty
	// when the function is anonymous to the runtime.
	Package string
}

// Option adjusts a Registration.
type Option func(*Registration)

// WithClones sets how many concurrent runner clones serve the group.
func WithClones(n int) Option {
	return func(r *Registration) { r.Clones = n }
}

// WithIdentity overrides the identity derived from the function name.
func WithIdentity(identity string) Option {
	return func(r *Registration) { r.Identity = identity }
}

// NewRegistration builds and validates a Registration.
func NewRegistration(fn func(context.Context, event.Event) error, eventType event.Type, group event.Group, opts ...Option) (Registration, error) {
	reg := Registration{
		Func:   fn,
		Event:  eventType,
		Group:  group,
		Clones: DefaultClones,
	}
	if fn != nil {
		reg.Identity = FuncName(fn)
		reg.Package = PackagePath(reg.Identity)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	return reg, reg.Validate()
}

// Validate reports missing or out-of-range fields.
func (r Registration) Validate() error {
	switch {
	case r.Func == nil:
		return fmt.Errorf("%w: consumer function is nil", errspkg.ErrInvalidRegistration)
	case r.Event == "":
		return fmt.Errorf("%w: event type is required", errspkg.ErrInvalidRegistration)
	case r.Group == "":
		return fmt.Errorf("%w: group is required", errspkg.ErrInvalidRegistration)
	case r.Clones < 1:
		return fmt.Errorf("%w: clones must be at least 1, got %d", errspkg.ErrInvalidRegistration, r.Clones)
	case r.Identity == "":
		return fmt.Errorf("%w: identity is required", errspkg.ErrInvalidRegistration)
	}
	return nil
}

// FuncName returns the fully qualified name of fn, e.g.
// "github.com/acme/app/billing.OnOrder".
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}

// PackagePath extracts the import path from a qualified function name.
func PackagePath(funcName string) string {
	slash := strings.LastIndex(funcName, "/")
	dot := strings.Index(funcName[slash+1:], ".")
	if dot < 0 {
		return ""
	}
	return funcName[:slash+1+dot]
}
