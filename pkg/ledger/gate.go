package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Capability is a named permission an identity may hold.
type Capability string

const (
	CapabilityAdministrator Capability = "administrator"
	CapabilityPauser        Capability = "pauser"
	CapabilityTreasurer     Capability = "treasurer"
	CapabilityOracleUpdater Capability = "oracle_updater"
)

// ParseCapability validates a capability name.
func ParseCapability(raw string) (Capability, error) {
	switch Capability(strings.TrimSpace(raw)) {
	case CapabilityAdministrator:
		return CapabilityAdministrator, nil
	case CapabilityPauser:
		return CapabilityPauser, nil
	case CapabilityTreasurer:
		return CapabilityTreasurer, nil
	case CapabilityOracleUpdater:
		return CapabilityOracleUpdater, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCapability, raw)
	}
}

// String returns the capability name.
func (capability Capability) String() string {
	return string(capability)
}

// CapabilityChecker answers grant lookups; grant management lives outside this package.
type CapabilityChecker interface {
	HasCapability(ctx context.Context, identity Identity, capability Capability) (bool, error)
}

// CapabilitySet is a static, read-only CapabilityChecker.
type CapabilitySet struct {
	grants map[Capability]map[string]struct{}
}

// NewCapabilitySet copies the provided grants.
func NewCapabilitySet(grants map[Capability][]Identity) CapabilitySet {
	set := CapabilitySet{grants: make(map[Capability]map[string]struct{}, len(grants))}
	for capability, holders := range grants {
		members := make(map[string]struct{}, len(holders))
		for _, holder := range holders {
			if holder.IsZero() {
				continue
			}
			members[holder.String()] = struct{}{}
		}
		set.grants[capability] = members
	}
	return set
}

// HasCapability implements CapabilityChecker.
func (set CapabilitySet) HasCapability(_ context.Context, identity Identity, capability Capability) (bool, error) {
	members, ok := set.grants[capability]
	if !ok {
		return false, nil
	}
	_, granted := members[identity.String()]
	return granted, nil
}

// Gate is the single authorization point for capability-restricted operations.
type Gate struct {
	checker CapabilityChecker
}

// NewGate wires a Gate over a checker.
func NewGate(checker CapabilityChecker) (*Gate, error) {
	if checker == nil {
		return nil, fmt.Errorf("%w: capability checker is nil", ErrInvalidServiceConfig)
	}
	return &Gate{checker: checker}, nil
}

// Allowed reports whether identity holds capability.
func (gate *Gate) Allowed(ctx context.Context, identity Identity, capability Capability) (bool, error) {
	if identity.IsZero() {
		return false, nil
	}
	return gate.checker.HasCapability(ctx, identity, capability)
}

// Require fails with ErrUnauthorized unless identity holds capability.
func (gate *Gate) Require(ctx context.Context, identity Identity, capability Capability) error {
	allowed, err := gate.Allowed(ctx, identity, capability)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %q lacks %s", ErrUnauthorized, identity.String(), capability)
	}
	return nil
}

func requireRunState(state SystemState, expected RunState) error {
	if state.RunState == expected {
		return nil
	}
	if expected == RunStateRunning {
		return ErrSystemSuspended
	}
	return ErrSystemNotSuspended
}
