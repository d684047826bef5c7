package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedemptionKeyIsStable(t *testing.T) {
	g := NewGenerator()

	a := g.RedemptionKey("order-1", "card-9", "reward-points")
	b := g.RedemptionKey("order-1", "card-9", "reward-points")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "redemption-"))
	assert.Len(t, a, len("redemption-")+16)

	assert.NotEqual(t, a, g.RedemptionKey("order-2", "card-9", "reward-points"))
	assert.NotEqual(t, a, g.RedemptionKey("order-1", "card-8", "reward-points"))
	assert.NotEqual(t, a, g.RedemptionKey("order-1", "card-9", "reward-gift"))
}
