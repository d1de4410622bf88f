package bus

import (
	"fmt"
	"strings"
)

const (
	NamePrefix = "org.fedoraproject.Anaconda"
	PathPrefix = "/org/fedoraproject/Anaconda"

	BossInterface = NamePrefix + ".Boss"
	BossPath      = PathPrefix + "/Boss"
	TaskInterface = NamePrefix + ".Task"
	// KickstartModuleInterface is implemented by every module.
	KickstartModuleInterface = NamePrefix + ".KickstartModule"

	PropertiesChanged = "PropertiesChanged"
)

// ModuleInterface returns the interface name of a module, for example
// org.fedoraproject.Anaconda.Modules.Timezone.
func ModuleInterface(name string) string {
	return NamePrefix + ".Modules." + name
}

// ModulePath returns the object path of a module.
func ModulePath(name string) string {
	return PathPrefix + "/Modules/" + name
}

// ModuleNameFromPath is the inverse of ModulePath.
func ModuleNameFromPath(path string) (string, bool) {
	prefix := PathPrefix + "/Modules/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(path, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

func taskPath(owner string, n int) string {
	return fmt.Sprintf("%s/Tasks/%d", owner, n)
}
