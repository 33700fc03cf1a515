// Package firewall validates invocation arguments against a capability's
// declared input schema before invocation (the parameter-filter step,
// "Parameter filter") dispatches to a protocol adapter.
//
// Grounded on github.com/brevanhowe/govern-core's original PolicyFirewall
// (string-keyed tool allowlist + compiled JSON Schema per tool), adapted
// from an allowlist-of-tool-names shape to model.Capability's
// already-registered InputSchema: there is no separate allowlist here
// because resource.Registry is itself the allowlist (only discovered
// capabilities resolve at all).
package firewall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchemaViolation is returned when arguments fail a capability's input
// schema.
var ErrSchemaViolation = fmt.Errorf("firewall: arguments failed schema validation")

// Validator compiles and caches JSON Schemas per capability ID and checks
// invocation arguments against them.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// New constructs an empty Validator.
func New() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against capabilityID's inputSchema (a JSON-Schema
// document as map[string]any, per model.Capability.InputSchema). A nil or
// empty schema means "no constraint" and always passes.
func (v *Validator) Validate(capabilityID string, inputSchema map[string]any, args map[string]any) error {
	if len(inputSchema) == 0 {
		return nil
	}

	schema, err := v.compile(capabilityID, inputSchema)
	if err != nil {
		return fmt.Errorf("firewall: compile schema for %q: %w", capabilityID, err)
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(args); err != nil {
		return fmt.Errorf("%w: capability %q: %v", ErrSchemaViolation, capabilityID, err)
	}
	return nil
}

// Forget drops a cached compiled schema, used when a capability's schema
// is redefined (e.g. after a resource re-discovery cycle).
func (v *Validator) Forget(capabilityID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.compiled, capabilityID)
}

func (v *Validator) compile(capabilityID string, inputSchema map[string]any) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[capabilityID]; ok {
		return s, nil
	}

	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	resourceURL := "mem://capabilities/" + capabilityID + ".schema.json"
	if err := c.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := c.Compile(resourceURL)
	if err != nil {
		return nil, err
	}
	v.compiled[capabilityID] = schema
	return schema, nil
}
