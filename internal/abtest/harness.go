// Package abtest measures whether repair memory reduces the rounds a goal
// needs, by alternating cold runs (memory rotated away) with warm runs.
package abtest

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jordanhubbard/healloop/internal/healer"
	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/pkg/models"
)

// Runner is satisfied by *healer.Controller.
type Runner interface {
	Run(ctx context.Context, goal string, opts healer.Options) (*models.Run, error)
}

// Rotator clears the memory log, keeping the old one aside.
// *memory.FileStore satisfies it.
type Rotator interface {
	Rotate() (string, error)
}

// Trial pairs one cold and one warm run.
type Trial struct {
	N          int    `json:"trial"`
	ColdRunID  string `json:"cold_run_id"`
	ColdRounds int    `json:"cold_rounds"`
	ColdOK     bool   `json:"cold_ok"`
	WarmRunID  string `json:"warm_run_id"`
	WarmRounds int    `json:"warm_rounds"`
	WarmOK     bool   `json:"warm_ok"`
	RotatedTo  string `json:"rotated_to,omitempty"`
}

// Result is the harness report.
type Result struct {
	Goal      string  `json:"goal"`
	MaxRounds int     `json:"max_rounds"`
	Trials    []Trial `json:"trials"`
	Cold      Stats   `json:"cold"`
	Warm      Stats   `json:"warm"`
	// EffectSize is Cohen's d of warm vs cold; nil with fewer than two trials.
	EffectSize *float64 `json:"effect_size,omitempty"`
	// WarmWorse is true when warm runs averaged more rounds than cold ones.
	WarmWorse bool `json:"warm_worse"`
}

// Harness runs A/B trials for a single goal.
type Harness struct {
	runner    Runner
	store     Rotator
	trials    int
	maxRounds int
	logger    *slog.Logger
}

func NewHarness(runner Runner, store Rotator, trials, maxRounds int) *Harness {
	if trials <= 0 {
		trials = 1
	}
	return &Harness{runner: runner, store: store, trials: trials, maxRounds: maxRounds, logger: logging.New("abtest")}
}

// Run executes every trial sequentially. A trial's warm run sees the memory
// written by its own cold run and nothing older.
func (h *Harness) Run(ctx context.Context, goal string) (*Result, error) {
	ctx, span := otel.Tracer("healloop/abtest").Start(ctx, "abtest.run")
	span.SetAttributes(attribute.Int("trials", h.trials))
	defer span.End()

	res := &Result{Goal: goal, MaxRounds: h.maxRounds}
	var cold, warm []int
	var coldOK, warmOK int

	for n := 1; n <= h.trials; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rotated, err := h.store.Rotate()
		if err != nil {
			return nil, fmt.Errorf("trial %d: clear memory: %w", n, err)
		}

		c, err := h.runner.Run(ctx, goal, healer.Options{MaxRounds: h.maxRounds})
		if err != nil {
			return nil, fmt.Errorf("trial %d cold run: %w", n, err)
		}
		w, err := h.runner.Run(ctx, goal, healer.Options{MaxRounds: h.maxRounds})
		if err != nil {
			return nil, fmt.Errorf("trial %d warm run: %w", n, err)
		}

		t := Trial{
			N:          n,
			ColdRunID:  c.ID,
			ColdRounds: len(c.Rounds),
			ColdOK:     c.OK,
			WarmRunID:  w.ID,
			WarmRounds: len(w.Rounds),
			WarmOK:     w.OK,
			RotatedTo:  rotated,
		}
		res.Trials = append(res.Trials, t)
		cold = append(cold, t.ColdRounds)
		warm = append(warm, t.WarmRounds)
		if c.OK {
			coldOK++
		}
		if w.OK {
			warmOK++
		}
		h.logger.Info("trial finished", "trial", n, "cold_rounds", t.ColdRounds, "warm_rounds", t.WarmRounds)
	}

	res.Cold = Summarize(cold, coldOK)
	res.Warm = Summarize(warm, warmOK)
	res.WarmWorse = res.Warm.Mean > res.Cold.Mean
	if d, err := EffectSize(cold, warm); err == nil {
		res.EffectSize = &d
	}
	if res.WarmWorse {
		h.logger.Warn("warm runs averaged more rounds than cold runs", "cold_mean", res.Cold.Mean, "warm_mean", res.Warm.Mean)
	}
	return res, nil
}
