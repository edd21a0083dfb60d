package abtest

import (
	"errors"
	"math"
)

// ErrInsufficientSamples indicates not enough samples for analysis.
var ErrInsufficientSamples = errors.New("insufficient samples for statistical analysis")

// Stats summarizes the rounds-per-run samples of one arm.
type Stats struct {
	N           int     `json:"n"`
	Mean        float64 `json:"mean_rounds"`
	StdDev      float64 `json:"stddev_rounds"`
	Min         int     `json:"min_rounds"`
	Max         int     `json:"max_rounds"`
	SuccessRate float64 `json:"success_rate"`
}

// Summarize computes Stats. successes counts HEALTHY runs.
func Summarize(rounds []int, successes int) Stats {
	s := Stats{N: len(rounds)}
	if len(rounds) == 0 {
		return s
	}
	s.Min, s.Max = rounds[0], rounds[0]
	for _, r := range rounds {
		s.Min = min(s.Min, r)
		s.Max = max(s.Max, r)
	}
	s.Mean = mean(rounds)
	if len(rounds) > 1 {
		s.StdDev = math.Sqrt(variance(rounds, s.Mean))
	}
	s.SuccessRate = float64(successes) / float64(len(rounds))
	return s
}

// EffectSize returns Cohen's d of warm relative to cold. Negative values
// mean warm runs needed fewer rounds.
func EffectSize(cold, warm []int) (float64, error) {
	if len(cold) < 2 || len(warm) < 2 {
		return 0, ErrInsufficientSamples
	}
	mc, mw := mean(cold), mean(warm)
	pooled := math.Sqrt(((float64(len(cold))-1)*variance(cold, mc) + (float64(len(warm))-1)*variance(warm, mw)) /
		float64(len(cold)+len(warm)-2))
	if pooled == 0 {
		if mw == mc {
			return 0, nil
		}
		return math.Copysign(math.Inf(1), mw-mc), nil
	}
	return (mw - mc) / pooled, nil
}

func mean(samples []int) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

// variance is the unbiased sample variance.
func variance(samples []int, mean float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		d := float64(s) - mean
		sum += d * d
	}
	return sum / float64(len(samples)-1)
}
