package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/vk/dapgrid/internal/ctxlog"
)

// ValidateRegistry performs a strict sanity check over every registered type.
// Factories must produce non-nil pointers to structs, and statics must be
// non-nil. A failure here is a programmer error in a bundle.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, key := range r.Keys() {
		t := r.types[key]

		v := reflect.ValueOf(t.New())
		if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() {
			errs = append(errs, fmt.Sprintf("type '%s': factory must return a non-nil pointer, got %s", key, t.goType))
			continue
		}
		if v.Elem().Kind() != reflect.Struct {
			errs = append(errs, fmt.Sprintf("type '%s': factory must return a pointer to a struct, got %s", key, t.goType))
		}

		for name, s := range t.Statics {
			if s == nil {
				errs = append(errs, fmt.Sprintf("type '%s': static '%s' is nil", key, name))
			}
		}

		if t.Shared && len(t.Statics) > 0 {
			logger.Warn("Shared type exposes statics; they will be visible to every namespace.", "type", key)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}
