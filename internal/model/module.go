package model

import "github.com/vk/dapgrid/internal/registry"

// Module registers the shared host types.
type Module struct{}

// Register registers the shared types with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(CustomerName, &registry.RegisteredType{
		New:    func() any { return new(Customer) },
		Shared: true,
	})
	r.RegisterType(CustomerRequestName, &registry.RegisteredType{
		New:    func() any { return new(CustomerRequest) },
		Shared: true,
	})
	r.RegisterType(RulesResponseName, &registry.RegisteredType{
		New:    func() any { return new(RulesResponse) },
		Shared: true,
	})
}
