// Package requirement collects the packages and groups the installer
// modules need on the installed system.
package requirement

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	TypePackage = "package"
	TypeGroup   = "group"
)

// Requirement asks the payload to install a package or a group.
type Requirement struct {
	Type   string `structure:",required" description:"Type of the requirement: package or group."`
	Name   string `structure:",required" description:"Name of the package or group."`
	Reason string `description:"Why the requirement is needed."`
}

func Package(name, reason string) Requirement {
	return Requirement{Type: TypePackage, Name: name, Reason: reason}
}

func Group(name, reason string) Requirement {
	return Requirement{Type: TypeGroup, Name: name, Reason: reason}
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s %s (%s)", r.Type, r.Name, r.Reason)
}

// Source is anything that can report requirements, usually a module.
type Source interface {
	CollectRequirements() []Requirement
}

// SourceFunc adapts a function to Source.
type SourceFunc func() []Requirement

func (f SourceFunc) CollectRequirements() []Requirement {
	return f()
}

// Collect concatenates the requirements of all sources in order.
func Collect(sources ...Source) []Requirement {
	var all []Requirement
	for _, s := range sources {
		all = append(all, s.CollectRequirements()...)
	}
	return all
}

// Apply adds the requirements to include and returns it. Names listed in
// ignored or exclude are dropped, as are requirements of unknown types.
func Apply(requirements []Requirement, include, exclude, ignored []string) []string {
	ignoredSet := toSet(ignored)
	excludeSet := toSet(exclude)

	for _, r := range requirements {
		logger := logrus.WithFields(logrus.Fields{
			"requirement": r.Name,
			"reason":      r.Reason,
		})

		if ignoredSet[r.Name] {
			logger.Debugf("requirement %s is ignored by the installer configuration", r.Name)
			continue
		}
		if excludeSet[r.Name] {
			logger.Debugf("requirement %s is excluded by the packages selection", r.Name)
			continue
		}

		switch r.Type {
		case TypePackage:
			logger.Debugf("adding package %s", r.Name)
			include = append(include, r.Name)
		case TypeGroup:
			logger.Debugf("adding group %s", r.Name)
			include = append(include, "@"+r.Name)
		default:
			logger.Debugf("skipping requirement %s of unknown type %q", r.Name, r.Type)
		}
	}
	return include
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
