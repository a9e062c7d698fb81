// Package cosmology computes luminosity distances and distance moduli in a
// flat ΛCDM universe.
package cosmology

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// SpeedOfLight in km/s.
const SpeedOfLight = 299792.458

// photonDensity is Ωγh² per K⁴ of CMB temperature.
const photonDensity = 4.481620089e-7

// FlatLambdaCDM is a spatially flat cosmology with matter, radiation
// (photons and massless neutrinos), one massive neutrino species treated as
// matter, and a cosmological constant filling the remainder.
type FlatLambdaCDM struct {
	H0   float64 // km/s/Mpc
	Om0  float64 // matter density today, excluding neutrinos
	Tcmb float64 // K
	Neff float64
	// MassiveNu is the summed mass of the massive neutrino species in eV.
	MassiveNu float64
	// MasslessSpecies is how many of the three species are massless.
	MasslessSpecies int
}

// Planck18 matches the Planck 2018 (arXiv v2) parameters used to build the
// ZTF simulations.
var Planck18 = FlatLambdaCDM{
	H0:              67.66,
	Om0:             0.30966,
	Tcmb:            2.7255,
	Neff:            3.046,
	MassiveNu:       0.06,
	MasslessSpecies: 2,
}

// quadraturePoints is the Gauss-Legendre order used for the comoving
// distance integral; the integrand is smooth so this is far below 1e-6 mag.
const quadraturePoints = 64

func (c FlatLambdaCDM) h() float64 {
	return c.H0 / 100
}

// Ogamma0 is the photon density today.
func (c FlatLambdaCDM) Ogamma0() float64 {
	return photonDensity * math.Pow(c.Tcmb, 4) / (c.h() * c.h())
}

// Onu0 is the neutrino density today: massless species as radiation and the
// massive species as matter.
func (c FlatLambdaCDM) Onu0() (relativistic, massive float64) {
	perSpecies := 7.0 / 8.0 * math.Pow(4.0/11.0, 4.0/3.0) * c.Ogamma0() * c.Neff / 3
	relativistic = perSpecies * float64(c.MasslessSpecies)
	massive = c.MassiveNu / (93.14 * c.h() * c.h())
	return relativistic, massive
}

// Ode0 is the dark energy density that closes the universe.
func (c FlatLambdaCDM) Ode0() float64 {
	rel, mass := c.Onu0()
	return 1 - c.Om0 - c.Ogamma0() - rel - mass
}

// E is the dimensionless Hubble parameter H(z)/H0.
func (c FlatLambdaCDM) E(z float64) float64 {
	rel, mass := c.Onu0()
	zp1 := 1 + z
	matter := (c.Om0 + mass) * zp1 * zp1 * zp1
	radiation := (c.Ogamma0() + rel) * zp1 * zp1 * zp1 * zp1
	return math.Sqrt(matter + radiation + c.Ode0())
}

// HubbleDistance is c/H0 in Mpc.
func (c FlatLambdaCDM) HubbleDistance() float64 {
	return SpeedOfLight / c.H0
}

// ComovingDistance in Mpc.
func (c FlatLambdaCDM) ComovingDistance(z float64) float64 {
	if z <= 0 {
		return 0
	}
	integrand := func(x float64) float64 { return 1 / c.E(x) }
	return c.HubbleDistance() * quad.Fixed(integrand, 0, z, quadraturePoints, quad.Legendre{}, 0)
}

// LuminosityDistance in Mpc.
func (c FlatLambdaCDM) LuminosityDistance(z float64) float64 {
	return (1 + z) * c.ComovingDistance(z)
}

// DistMod is the distance modulus 5·log10(d_L / 10 pc). A redshift of zero
// gives -Inf and a negative redshift gives NaN, so missing redshifts stay
// visibly invalid downstream.
func (c FlatLambdaCDM) DistMod(z float64) float64 {
	switch {
	case math.IsNaN(z) || z < 0:
		return math.NaN()
	case z == 0:
		return math.Inf(-1)
	}
	return 5*math.Log10(c.LuminosityDistance(z)) + 25
}
