package app

import (
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/modules/addition"
	"github.com/vk/gridflow/modules/addsub"
	"github.com/vk/gridflow/modules/identity"
)

// coreModules returns the modules compiled into the gridflow binary. Plugins
// keep per-instance buffer accounting, so every App gets fresh values.
func coreModules() []registry.Module {
	return []registry.Module{
		&addition.Module{},
		&addsub.Module{},
		&identity.Module{},
	}
}
