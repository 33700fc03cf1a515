package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/brevanhowe/govern-core/pkg/model"
)

// CapabilityProfile is the YAML shape of a single model.Capability entry
// inside a resources.yaml-style document.
type CapabilityProfile struct {
	Name                 string            `yaml:"name"`
	Description          string            `yaml:"description,omitempty"`
	Sensitivity          string            `yaml:"sensitivity"`
	InputSchema          map[string]any    `yaml:"input_schema,omitempty"`
	OutputSchema         map[string]any    `yaml:"output_schema,omitempty"`
	APIVersionConstraint string            `yaml:"api_version_constraint,omitempty"`
	Metadata             map[string]string `yaml:"metadata,omitempty"`
	// HTTP-protocol capability metadata consumed by the HTTP adapter.
	HTTPMethod string `yaml:"http_method,omitempty"`
	HTTPPath   string `yaml:"http_path,omitempty"`
}

// ResourceProfile is the YAML shape of a single model.Resource plus its
// capabilities, as found in a resources.yaml registration document.
type ResourceProfile struct {
	ID           string              `yaml:"id"`
	Name         string              `yaml:"name"`
	Protocol     string              `yaml:"protocol"`
	Endpoint     string              `yaml:"endpoint"`
	Sensitivity  string              `yaml:"sensitivity"`
	Metadata     map[string]string   `yaml:"metadata,omitempty"`
	Capabilities []CapabilityProfile `yaml:"capabilities,omitempty"`
}

// ResourcesDocument is the top-level shape of a resources.yaml file: a flat
// list of resources to register with pkg/resource.Registry at startup.
type ResourcesDocument struct {
	Resources []ResourceProfile `yaml:"resources"`
}

// FederationPeerProfile is the YAML shape of one entry in a federation
// peer list, feeding model.FederationNode registration.
type FederationPeerProfile struct {
	NodeID           string            `yaml:"node_id"`
	Name             string            `yaml:"name"`
	Endpoint         string            `yaml:"endpoint"`
	TrustAnchorCert  string            `yaml:"trust_anchor_cert_path"`
	Enabled          bool              `yaml:"enabled"`
	RateLimitPerHour int               `yaml:"rate_limit_per_hour"`
	Metadata         map[string]string `yaml:"metadata,omitempty"`
}

// FederationDocument is the top-level shape of a federation-peers.yaml file.
type FederationDocument struct {
	Peers []FederationPeerProfile `yaml:"peers"`
}

// LoadResourceProfile reads a resources.yaml-style document from path and
// returns the model.Resource/model.Capability pairs it declares, ready for
// pkg/resource.Registry.Register.
func LoadResourceProfile(path string) ([]model.Resource, map[string][]model.Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read resource profile %s: %w", path, err)
	}

	var doc ResourcesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse resource profile %s: %w", path, err)
	}

	resources := make([]model.Resource, 0, len(doc.Resources))
	capsByResource := make(map[string][]model.Capability, len(doc.Resources))
	for _, rp := range doc.Resources {
		resources = append(resources, model.Resource{
			ID:          rp.ID,
			Name:        rp.Name,
			Protocol:    model.Protocol(rp.Protocol),
			Endpoint:    rp.Endpoint,
			Sensitivity: model.Sensitivity(rp.Sensitivity),
			Metadata:    rp.Metadata,
		})

		caps := make([]model.Capability, 0, len(rp.Capabilities))
		for _, cp := range rp.Capabilities {
			meta := cp.Metadata
			if cp.HTTPMethod != "" || cp.HTTPPath != "" {
				if meta == nil {
					meta = map[string]string{}
				}
				meta["http_method"] = cp.HTTPMethod
				meta["http_path"] = cp.HTTPPath
			}
			caps = append(caps, model.Capability{
				ID:                   rp.ID + "." + cp.Name,
				ResourceID:           rp.ID,
				Name:                 cp.Name,
				Description:          cp.Description,
				InputSchema:          cp.InputSchema,
				OutputSchema:         cp.OutputSchema,
				Sensitivity:          model.Sensitivity(cp.Sensitivity),
				Metadata:             meta,
				APIVersionConstraint: cp.APIVersionConstraint,
			})
		}
		capsByResource[rp.ID] = caps
	}

	return resources, capsByResource, nil
}

// LoadFederationProfile reads a federation-peers.yaml-style document from
// path, loading each peer's PEM trust anchor from TrustAnchorCert on disk.
func LoadFederationProfile(path string) ([]model.FederationNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read federation profile %s: %w", path, err)
	}

	var doc FederationDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse federation profile %s: %w", path, err)
	}

	nodes := make([]model.FederationNode, 0, len(doc.Peers))
	for _, p := range doc.Peers {
		certPEM := ""
		if p.TrustAnchorCert != "" {
			certPath := p.TrustAnchorCert
			if !filepath.IsAbs(certPath) {
				certPath = filepath.Join(filepath.Dir(path), certPath)
			}
			pem, err := os.ReadFile(certPath)
			if err != nil {
				return nil, fmt.Errorf("read trust anchor cert for peer %s: %w", p.NodeID, err)
			}
			certPEM = string(pem)
		}

		nodes = append(nodes, model.FederationNode{
			NodeID:           p.NodeID,
			Name:             p.Name,
			Endpoint:         p.Endpoint,
			TrustAnchorCert:  certPEM,
			Enabled:          p.Enabled,
			RateLimitPerHour: p.RateLimitPerHour,
			Metadata:         p.Metadata,
		})
	}

	return nodes, nil
}
