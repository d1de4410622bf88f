// Package priority implements storage cells that resolve concurrent
// writers by the priority of the source that wrote them.
package priority

import (
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/signal"
)

// Priority of a write. A higher value wins.
type Priority int

const (
	Default     Priority = 0
	Language    Priority = 10
	Geolocation Priority = 20
	Kickstart   Priority = 30
	User        Priority = 40
)

func (p Priority) String() string {
	switch p {
	case Default:
		return "DEFAULT"
	case Language:
		return "LANGUAGE"
	case Geolocation:
		return "GEOLOCATION"
	case Kickstart:
		return "KICKSTART"
	case User:
		return "USER"
	}
	return fmt.Sprintf("PRIORITY(%d)", int(p))
}

// Cell holds one value and the priority of its last successful write.
//
// A Cell is owned by the control loop and is not safe for concurrent use.
type Cell[T any] struct {
	name     string
	def      T
	value    T
	priority Priority

	// Changed fires after a successful write that changed the value.
	Changed signal.Signal[T]
}

func NewCell[T any](name string, def T) *Cell[T] {
	return &Cell[T]{
		name:     name,
		def:      def,
		value:    def,
		priority: Default,
	}
}

func (c *Cell[T]) Name() string {
	return c.name
}

func (c *Cell[T]) Get() T {
	return c.value
}

func (c *Cell[T]) Priority() Priority {
	return c.priority
}

// Set writes v if p is at least the current priority and reports whether
// the write was applied. A rejected write changes nothing.
func (c *Cell[T]) Set(v T, p Priority) bool {
	if p < c.priority {
		logrus.WithFields(logrus.Fields{
			"cell":     c.name,
			"priority": p.String(),
			"current":  c.priority.String(),
		}).Debugf("ignoring write to %s with lower priority", c.name)
		return false
	}

	changed := !reflect.DeepEqual(c.value, v)
	c.value = v
	c.priority = p
	if changed {
		c.Changed.Emit(v)
	}
	return true
}

// SetUnprioritized writes v as the user.
func (c *Cell[T]) SetUnprioritized(v T) bool {
	return c.Set(v, User)
}

// Reset restores the declared default at DEFAULT priority.
func (c *Cell[T]) Reset() {
	changed := !reflect.DeepEqual(c.value, c.def)
	c.value = c.def
	c.priority = Default
	if changed {
		c.Changed.Emit(c.def)
	}
}
