// Package stochastic implements the mean-reverting noise generator and the
// sawtooth dosing generator that drive the plant's sensor channels.
package stochastic

import (
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// OU is a mean-reverting Ornstein-Uhlenbeck channel:
//
//	value += theta*(mean-value)*dt + sigma*sqrt(dt)*N(0,1)
//
// clamped to [ClampLo, ClampHi] after each step. Mean can be moved between
// steps (e.g. to track a diurnal curve or a slowly-adjusted setpoint).
type OU struct {
	Mean             float64
	Theta            float64
	Sigma            float64
	ClampLo, ClampHi float64

	Value float64

	src rand.Source
}

// NewOU seeds a channel deterministically from (seed, channelID) so restarts
// with the same global seed reproduce identical traces per channel.
func NewOU(seed int64, channelID string, mean, theta, sigma, lo, hi float64) *OU {
	return &OU{
		Mean:    mean,
		Theta:   theta,
		Sigma:   sigma,
		ClampLo: lo,
		ClampHi: hi,
		Value:   mean,
		src:     rand.NewSource(uint64(seed ^ fnv64(channelID))),
	}
}

// Step advances the channel by dt simulated seconds, subdividing into
// substeps of at most 1/(10*theta) to preserve distributional correctness
// when dt is large (after a pause, or a speed change). It returns the
// resulting value and whether any substep clamped (a SimulationWarn signal).
func (o *OU) Step(dt float64) (value float64, clamped bool) {
	if dt <= 0 {
		return o.Value, false
	}
	maxSubstep := 1.0
	if o.Theta > 0 {
		maxSubstep = 1.0 / (10.0 * o.Theta)
	}
	remaining := dt
	for remaining > 0 {
		h := remaining
		if h > maxSubstep {
			h = maxSubstep
		}
		remaining -= h
		o.Value += o.Theta*(o.Mean-o.Value)*h + o.Sigma*sqrt(h)*o.gauss()
		if o.Value < o.ClampLo {
			o.Value = o.ClampLo
			clamped = true
		} else if o.Value > o.ClampHi {
			o.Value = o.ClampHi
			clamped = true
		}
	}
	return o.Value, clamped
}

// SetMean moves the mean-reversion target without disturbing current value
// or noise state (used to track the diurnal flow curve).
func (o *OU) SetMean(mean float64) { o.Mean = mean }

func (o *OU) gauss() float64 {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: o.src}.Rand()
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Sqrt(x)
}

// fnv64 hashes a channel id into a seed perturbation so every OU channel
// gets an independent, but reproducible, stream from a shared global seed.
func fnv64(s string) int64 {
	const prime = 1099511628211
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return int64(h)
}
