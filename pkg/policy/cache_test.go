package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brevanhowe/govern-core/pkg/model"
)

func TestDecisionCache_SetGet(t *testing.T) {
	c := NewInMemoryDecisionCache()
	d := model.AuthorizationDecision{Allow: true, Reason: "allow"}
	c.Set("k1", d, time.Minute)

	got, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, d, got)
}

func TestDecisionCache_ExpiresByTTL(t *testing.T) {
	c := NewInMemoryDecisionCache()
	c.Set("k1", model.AuthorizationDecision{Allow: true}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok, "entry should have expired")
}

func TestDecisionCache_MissingKey(t *testing.T) {
	c := NewInMemoryDecisionCache()
	_, ok := c.Get("missing")
	assert.False(t, ok)
}
