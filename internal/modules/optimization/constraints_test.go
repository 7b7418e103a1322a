package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstraints_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Constraints)
		wantErr bool
	}{
		{"defaults", func(c *Constraints) {}, false},
		{"min above max", func(c *Constraints) { c.MinWeight, c.MaxWeight = 0.6, 0.4 }, true},
		{"negative min under long-only", func(c *Constraints) { c.MinWeight = -0.1 }, true},
		{"negative min long-short", func(c *Constraints) { c.MinWeight, c.LongOnly = -0.1, false }, false},
		{"NaN bound", func(c *Constraints) { c.MaxWeight = math.NaN() }, true},
		{"bad asset override", func(c *Constraints) { c.AssetBounds = map[string]Bounds{"A": {Min: 0.5, Max: 0.1}} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConstraints()
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConstraints)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConstraints_Feasible(t *testing.T) {
	assets := AssetUniverse{"A", "B", "C"}
	c := DefaultConstraints()
	assert.True(t, c.Feasible(assets))

	c.MaxWeight = 0.3
	assert.False(t, c.Feasible(assets))

	c.MaxWeight = 1
	c.MinWeight = 0.4
	assert.False(t, c.Feasible(assets))

	c.FullyInvested = false
	assert.True(t, c.Feasible(assets))
}

func TestConstraints_BoundsFor(t *testing.T) {
	c := DefaultConstraints()
	c.AssetBounds = map[string]Bounds{"B": {Min: 0.1, Max: 0.2}}

	assert.Equal(t, Bounds{Min: 0, Max: 1}, c.BoundsFor("A"))
	assert.Equal(t, Bounds{Min: 0.1, Max: 0.2}, c.BoundsFor("B"))
	assert.False(t, c.Trivial(AssetUniverse{"A", "B"}))
	assert.True(t, c.Trivial(AssetUniverse{"A"}))
}

func TestProjectOntoFeasible(t *testing.T) {
	lo := []float64{0, 0, 0}
	hi := []float64{0.5, 0.5, 0.5}

	out := projectOntoFeasible([]float64{0.1, 0.1, 0.8}, lo, hi)
	assert.InDelta(t, 1.0, out[0]+out[1]+out[2], 1e-12)
	assert.InDelta(t, 0.5, out[2], 1e-12)
	assert.InDelta(t, 0.25, out[0], 1e-12)
	assert.InDelta(t, 0.25, out[1], 1e-12)

	// Points already feasible are fixed points.
	in := []float64{0.2, 0.3, 0.5}
	out = projectOntoFeasible(in, lo, hi)
	assert.InDeltaSlice(t, in, out, 1e-12)
}
