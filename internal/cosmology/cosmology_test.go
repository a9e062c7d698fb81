package cosmology

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanck18Densities(t *testing.T) {
	c := Planck18
	rel, mass := c.Onu0()
	assert.InDelta(t, 5.4e-5, c.Ogamma0(), 0.2e-5)
	assert.Greater(t, rel, 0.0)
	assert.InDelta(t, 0.0014, mass, 0.0001)
	assert.InDelta(t, 1.0, c.Om0+c.Ogamma0()+rel+mass+c.Ode0(), 1e-12)
	assert.InDelta(t, 1.0, c.E(0), 1e-12)
}

func TestDistModLowRedshift(t *testing.T) {
	// second-order Hubble law: d_L ≈ cz/H0 · (1 + (1-q0)z/2)
	c := Planck18
	z := 0.01
	rel, mass := c.Onu0()
	q0 := (c.Om0+mass)/2 + (c.Ogamma0() + rel) - c.Ode0()
	dl := c.HubbleDistance() * z * (1 + (1-q0)*z/2)
	want := 5*math.Log10(dl) + 25

	assert.InDelta(t, want, c.DistMod(z), 0.005)
	assert.InDelta(t, 33.249, c.DistMod(z), 0.005)
}

func TestDistModMonotonic(t *testing.T) {
	prev := math.Inf(-1)
	for _, z := range []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 3} {
		mu := Planck18.DistMod(z)
		assert.Greater(t, mu, prev, "z=%g", z)
		prev = mu
	}
	// Planck18 at z=1 is close to 44.16 mag
	assert.InDelta(t, 44.16, Planck18.DistMod(1), 0.02)
}

func TestDistModInvalid(t *testing.T) {
	assert.True(t, math.IsInf(Planck18.DistMod(0), -1))
	assert.True(t, math.IsNaN(Planck18.DistMod(-9)))
	assert.True(t, math.IsNaN(Planck18.DistMod(math.NaN())))
	assert.Zero(t, Planck18.ComovingDistance(0))
}
