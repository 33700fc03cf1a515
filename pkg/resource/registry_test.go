package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brevanhowe/govern-core/pkg/adapter"
	"github.com/brevanhowe/govern-core/pkg/model"
)

type fakeAdapter struct {
	resources    []model.Resource
	capsByRes    map[string][]model.Capability
	registered   []string
	unregistered []string
}

func (f *fakeAdapter) Discover(ctx context.Context, config map[string]any) ([]model.Resource, error) {
	return f.resources, nil
}
func (f *fakeAdapter) Capabilities(ctx context.Context, r model.Resource) ([]model.Capability, error) {
	return f.capsByRes[r.ID], nil
}
func (f *fakeAdapter) Validate(ctx context.Context, req model.InvocationRequest) error { return nil }
func (f *fakeAdapter) Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult {
	return model.InvocationResult{Success: true}
}
func (f *fakeAdapter) Stream(ctx context.Context, req model.InvocationRequest) (<-chan adapter.StreamChunk, error) {
	return nil, nil
}
func (f *fakeAdapter) Health(ctx context.Context, r model.Resource) bool { return true }
func (f *fakeAdapter) OnResourceRegistered(ctx context.Context, r model.Resource) error {
	f.registered = append(f.registered, r.ID)
	return nil
}
func (f *fakeAdapter) OnResourceUnregistered(ctx context.Context, r model.Resource) error {
	f.unregistered = append(f.unregistered, r.ID)
	return nil
}

func TestSync_RegistersNewResourcesAndCapabilities(t *testing.T) {
	fa := &fakeAdapter{
		resources: []model.Resource{{ID: "res-1", Protocol: model.ProtocolHTTP}},
		capsByRes: map[string][]model.Capability{
			"res-1": {{ID: "cap-1", ResourceID: "res-1", Name: "do-thing"}},
		},
	}
	reg := New()
	reg.RegisterAdapter(model.ProtocolHTTP, fa)

	require.NoError(t, reg.Sync(context.Background(), model.ProtocolHTTP, nil))

	res, err := reg.Resource("res-1")
	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, []string{"res-1"}, fa.registered)

	caps := reg.CapabilitiesFor("res-1")
	require.Len(t, caps, 1)
	assert.Equal(t, "cap-1", caps[0].ID)
}

func TestSync_UnregistersVanishedResources(t *testing.T) {
	fa := &fakeAdapter{resources: []model.Resource{{ID: "res-1", Protocol: model.ProtocolHTTP}}}
	reg := New()
	reg.RegisterAdapter(model.ProtocolHTTP, fa)
	require.NoError(t, reg.Sync(context.Background(), model.ProtocolHTTP, nil))

	fa.resources = nil
	require.NoError(t, reg.Sync(context.Background(), model.ProtocolHTTP, nil))

	_, err := reg.Resource("res-1")
	assert.ErrorIs(t, err, ErrResourceNotFound)
	assert.Equal(t, []string{"res-1"}, fa.unregistered)
}

func TestResolveCapability_VersionConstraint(t *testing.T) {
	fa := &fakeAdapter{
		resources: []model.Resource{{ID: "res-1", Protocol: model.ProtocolHTTP}},
		capsByRes: map[string][]model.Capability{
			"res-1": {{ID: "cap-1", ResourceID: "res-1", APIVersionConstraint: ">=1.2.0 <2.0.0"}},
		},
	}
	reg := New()
	reg.RegisterAdapter(model.ProtocolHTTP, fa)
	require.NoError(t, reg.Sync(context.Background(), model.ProtocolHTTP, nil))

	_, err := reg.ResolveCapability("cap-1", "1.5.0")
	assert.NoError(t, err)

	_, err = reg.ResolveCapability("cap-1", "2.1.0")
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestRegisterManual_PopulatesWithoutAnAdapter(t *testing.T) {
	reg := New()
	reg.RegisterManual(
		model.Resource{ID: "res-manual", Protocol: model.ProtocolHTTP},
		[]model.Capability{{ID: "res-manual.ping", ResourceID: "res-manual", Name: "ping"}},
	)

	res, err := reg.Resource("res-manual")
	require.NoError(t, err)
	assert.Equal(t, "res-manual", res.ID)

	caps := reg.CapabilitiesFor("res-manual")
	require.Len(t, caps, 1)
	assert.Equal(t, "res-manual.ping", caps[0].ID)
}
