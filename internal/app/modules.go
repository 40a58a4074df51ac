package app

import (
	"github.com/vk/dapgrid/internal/model"
	"github.com/vk/dapgrid/internal/registry"
	"github.com/vk/dapgrid/modules/payment"
)

// coreModules is the definitive list of all modules that are compiled into
// the dapgrid binary. Bundle types stay unreachable until a manifest exports
// them.
var coreModules = []registry.Module{
	&model.Module{},
	&payment.Module{},
}
