// Seasonal modulation of willingness to pay.
package engine

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Seasonality scales WTP over time with a sine cycle plus smooth simplex noise
// per group. A nil *Seasonality leaves WTP unchanged.
type Seasonality struct {
	Amplitude      float64 // sine amplitude as a fraction of WTP
	Period         float64 // sine period in time units
	NoiseAmplitude float64 // noise amplitude as a fraction of WTP
	NoiseFrequency float64 // noise samples per time unit
	NoiseOctaves   int

	noise opensimplex.Noise
}

// NewSeasonality returns seasonal modulation with its noise field seeded by seed.
func NewSeasonality(amplitude, period, noiseAmplitude float64, seed int64) *Seasonality {
	return &Seasonality{
		Amplitude:      amplitude,
		Period:         period,
		NoiseAmplitude: noiseAmplitude,
		NoiseFrequency: 0.05,
		NoiseOctaves:   3,
		noise:          opensimplex.NewNormalized(seed),
	}
}

// Factor returns the multiplicative WTP modifier at time t for a group,
// never below zero.
func (s *Seasonality) Factor(t float64, group int) float64 {
	if s == nil {
		return 1
	}
	f := 1.0
	if s.Amplitude != 0 && s.Period > 0 {
		f += s.Amplitude * math.Sin(2*math.Pi*t/s.Period)
	}
	if s.NoiseAmplitude != 0 && s.noise != nil {
		// Normalized noise is in [0,1]; center it.
		n := octaveNoise(s.noise, t, float64(group)*7.3, s.NoiseOctaves, s.NoiseFrequency, 0.5)
		f += s.NoiseAmplitude * (2*n - 1)
	}
	return math.Max(f, 0)
}

// Adjust returns the time-modulated WTP.
func (s *Seasonality) Adjust(wtp, t float64, group int) float64 {
	return wtp * s.Factor(t, group)
}

// octaveNoise layers several frequencies of simplex noise.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	if octaves < 1 {
		octaves = 1
	}
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
