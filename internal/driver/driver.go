// Package driver holds the actuation drivers and the capability-based
// registry that routes envelopes to exactly one of them.
package driver

import (
	"context"
	"fmt"

	"github.com/unison-os/actuation/internal/action"
)

// WildcardIntent matches any intent name when used as a capability name.
const WildcardIntent = "*"

// Capability is a declared (intent-name, device-class-set) pair a driver
// claims to handle. An empty device-class set means any class.
type Capability struct {
	Name          string
	DeviceClasses []string
}

// Matches reports whether the capability covers the envelope's intent and
// target class.
func (c Capability) Matches(env *action.Envelope) bool {
	if c.Name != WildcardIntent && c.Name != env.Intent.Name {
		return false
	}
	if len(c.DeviceClasses) == 0 {
		return true
	}
	for _, class := range c.DeviceClasses {
		if class == env.Target.DeviceClass {
			return true
		}
	}
	return false
}

// Driver performs (or simulates) the real-world or digital effect for a
// matched capability.
type Driver interface {
	Name() string
	Capabilities() []Capability
	// MaxRiskLevel caps the risk level this driver accepts. Compared by
	// severity rank, never by string value.
	MaxRiskLevel() action.RiskLevel
	Execute(ctx context.Context, env *action.Envelope) (*action.Result, error)
}

// ExecutionError is a driver-reported failure. The dispatcher surfaces it to
// the caller; it never crashes the process.
type ExecutionError struct {
	Driver string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("driver %s: %s", e.Driver, e.Reason)
}

// NoCapableDriverError is a routing failure: no registered driver declared a
// matching capability. A configuration/coverage gap, not a runtime fault.
type NoCapableDriverError struct {
	Intent      string
	DeviceClass string
}

func (e *NoCapableDriverError) Error() string {
	return fmt.Sprintf("no driver registered for intent %q and device_class %q", e.Intent, e.DeviceClass)
}

// Registry holds drivers in a fixed, explicit priority order. Registration
// order is routing policy: the first matching driver wins, so a
// wildcard-accepting driver placed early shadows every later, more specific
// one.
type Registry struct {
	drivers []Driver
}

// NewRegistry builds a registry with the given priority order.
func NewRegistry(drivers ...Driver) *Registry {
	return &Registry{drivers: drivers}
}

// Route returns the first driver whose capability set matches the envelope.
func (r *Registry) Route(env *action.Envelope) (Driver, error) {
	for _, d := range r.drivers {
		for _, cap := range d.Capabilities() {
			if cap.Matches(env) {
				return d, nil
			}
		}
	}
	return nil, &NoCapableDriverError{Intent: env.Intent.Name, DeviceClass: env.Target.DeviceClass}
}

// Drivers returns the registry contents in priority order.
func (r *Registry) Drivers() []Driver {
	return r.drivers
}
