// Package payment is the payment assessment model bundle. Its types are
// compiled in but stay unreachable until a manifest at a module location
// exports them into a namespace.
package payment

import "github.com/vk/dapgrid/internal/registry"

// Registry keys referenced by the bundle manifest's `type` attributes.
const (
	RequestInfoKey    = "payment.PaymentRequestInfo"
	AssessmentDataKey = "payment.PaymentAssessmentData"
	RequestMapperKey  = "payment.PaymentRequestMapper"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the bundle's types with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(RequestInfoKey, &registry.RegisteredType{
		New: func() any { return new(PaymentRequestInfo) },
	})
	r.RegisterType(AssessmentDataKey, &registry.RegisteredType{
		New: func() any { return new(PaymentAssessmentData) },
	})
	r.RegisterType(RequestMapperKey, &registry.RegisteredType{
		New:     func() any { return new(PaymentRequestMapper) },
		Statics: map[string]any{"INSTANCE": Instance},
	})
}
