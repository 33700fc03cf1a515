// Package resource implements the resource/capability registry: the
// catalog of model.Resource/model.Capability entries a ProtocolAdapter's
// Discover populates, with registration hooks and semver-gated
// capability resolution via github.com/Masterminds/semver/v3.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/brevanhowe/govern-core/pkg/adapter"
	"github.com/brevanhowe/govern-core/pkg/model"
)

var (
	ErrResourceNotFound   = errors.New("resource: not found")
	ErrCapabilityNotFound = errors.New("resource: capability not found")
	ErrVersionMismatch    = errors.New("resource: capability version constraint not satisfied")
)

// Registry is the in-process catalog of known resources/capabilities,
// updated as adapters discover or lose backends.
type Registry struct {
	mu           sync.RWMutex
	resources    map[string]model.Resource
	capabilities map[string][]model.Capability // resource id -> capabilities
	adapters     map[model.Protocol]adapter.Adapter
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		resources:    make(map[string]model.Resource),
		capabilities: make(map[string][]model.Capability),
		adapters:     make(map[model.Protocol]adapter.Adapter),
	}
}

// RegisterAdapter binds an Adapter implementation to the protocol it
// speaks, so Sync can dispatch discovery/lifecycle hooks to it.
func (r *Registry) RegisterAdapter(protocol model.Protocol, a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[protocol] = a
}

// Sync discovers resources via the adapter registered for protocol and
// reconciles the registry, firing OnResourceRegistered for new resources
// and OnResourceUnregistered for ones that disappeared.
func (r *Registry) Sync(ctx context.Context, protocol model.Protocol, config map[string]any) error {
	r.mu.RLock()
	a, ok := r.adapters[protocol]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("resource: no adapter registered for protocol %q", protocol)
	}

	discovered, err := a.Discover(ctx, config)
	if err != nil {
		return fmt.Errorf("resource: discover: %w", err)
	}

	seen := make(map[string]bool, len(discovered))
	for _, res := range discovered {
		seen[res.ID] = true

		r.mu.RLock()
		_, existed := r.resources[res.ID]
		r.mu.RUnlock()

		caps, err := a.Capabilities(ctx, res)
		if err != nil {
			return fmt.Errorf("resource: capabilities for %q: %w", res.ID, err)
		}

		r.mu.Lock()
		r.resources[res.ID] = res
		r.capabilities[res.ID] = caps
		r.mu.Unlock()

		if !existed {
			if err := a.OnResourceRegistered(ctx, res); err != nil {
				return fmt.Errorf("resource: OnResourceRegistered %q: %w", res.ID, err)
			}
		}
	}

	r.mu.Lock()
	var stale []model.Resource
	for id, res := range r.resources {
		if res.Protocol == protocol && !seen[id] {
			stale = append(stale, res)
			delete(r.resources, id)
			delete(r.capabilities, id)
		}
	}
	r.mu.Unlock()

	for _, res := range stale {
		if err := a.OnResourceUnregistered(ctx, res); err != nil {
			return fmt.Errorf("resource: OnResourceUnregistered %q: %w", res.ID, err)
		}
	}
	return nil
}

// RegisterManual directly installs a resource and its capabilities without
// going through an adapter's Discover, for the "manual" discovery method,
// whose backend here is a config.LoadResourceProfile-parsed YAML document.
func (r *Registry) RegisterManual(res model.Resource, caps []model.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[res.ID] = res
	r.capabilities[res.ID] = caps
}

// Resource looks up a resource by ID.
func (r *Registry) Resource(id string) (model.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	if !ok {
		return model.Resource{}, ErrResourceNotFound
	}
	return res, nil
}

// Capability looks up a capability by ID across every registered resource.
func (r *Registry) Capability(id string) (model.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, caps := range r.capabilities {
		for _, c := range caps {
			if c.ID == id {
				return c, nil
			}
		}
	}
	return model.Capability{}, ErrCapabilityNotFound
}

// ResolveCapability finds the capability by ID and checks its
// APIVersionConstraint (if any) against implVersion, the semver version
// string the resolved adapter implementation reports.
func (r *Registry) ResolveCapability(id, implVersion string) (model.Capability, error) {
	c, err := r.Capability(id)
	if err != nil {
		return model.Capability{}, err
	}
	if c.APIVersionConstraint == "" {
		return c, nil
	}

	constraint, err := semver.NewConstraint(c.APIVersionConstraint)
	if err != nil {
		return model.Capability{}, fmt.Errorf("resource: invalid version constraint %q: %w", c.APIVersionConstraint, err)
	}
	v, err := semver.NewVersion(implVersion)
	if err != nil {
		return model.Capability{}, fmt.Errorf("resource: invalid implementation version %q: %w", implVersion, err)
	}
	if !constraint.Check(v) {
		return model.Capability{}, fmt.Errorf("%w: capability %q requires %q, got %q", ErrVersionMismatch, id, c.APIVersionConstraint, implVersion)
	}
	return c, nil
}

// CapabilitiesFor lists every capability registered under resourceID.
func (r *Registry) CapabilitiesFor(resourceID string) []model.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := r.capabilities[resourceID]
	out := make([]model.Capability, len(caps))
	copy(out, caps)
	return out
}

// AdapterFor returns the adapter registered for protocol, if any.
func (r *Registry) AdapterFor(protocol model.Protocol) (adapter.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[protocol]
	return a, ok
}

// Resources lists every resource currently registered.
func (r *Registry) Resources() []model.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	return out
}
