package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	logger "github.com/multiversx/mx-chain-logger-go"
)

var log = logger.GetOrCreate("fusion/sim")

// SweepConfig describes a multi-seed run.
type SweepConfig struct {
	Runs         int
	BaseSeed     int64
	Workers      int
	Dataset      DatasetConfig
	Engine       engine.Config
	ThresholdPct float64
}

// DefaultSweepConfig runs 100 seeds on every CPU.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Runs:         100,
		BaseSeed:     1,
		Workers:      runtime.NumCPU(),
		Dataset:      DefaultDatasetConfig(),
		Engine:       engine.DefaultConfig(),
		ThresholdPct: DefaultThresholdPct,
	}
}

// MethodSummary aggregates one method across every successful run.
type MethodSummary struct {
	Method        string  `json:"method"`
	Passed        int     `json:"passed"`
	WorstMaxError float64 `json:"worst_max_error"`
	AvgMeanError  float64 `json:"avg_mean_error"`
}

// SweepSummary is the result of Sweep.
type SweepSummary struct {
	Runs     int             `json:"runs"`
	Failures int             `json:"failures"`
	Methods  []MethodSummary `json:"methods"`

	// WorstSeed is the seed with the largest engine max error.
	WorstSeed int64       `json:"worst_seed"`
	Pool      PoolStats   `json:"pool"`
	Results   []JobResult `json:"-"`
}

// Sweep generates and scores cfg.Runs datasets with consecutive seeds on a
// worker pool. Results are ordered by job ID.
func Sweep(ctx context.Context, cfg SweepConfig) (*SweepSummary, error) {
	if cfg.Runs <= 0 {
		return nil, errors.New("sweep needs at least one run")
	}
	if err := cfg.Dataset.Validate(); err != nil {
		return nil, err
	}

	run := func(ctx context.Context, job Job) (*Report, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := Generate(cfg.Dataset, rand.New(rand.NewSource(job.Seed)))
		if err != nil {
			return nil, err
		}
		return Score(ds, cfg.Engine, ScoreOptions{ThresholdPct: cfg.ThresholdPct})
	}

	pool := NewWorkerPool("sweep", cfg.Workers, cfg.Runs, run)
	stop := context.AfterFunc(ctx, pool.Cancel)
	defer stop()

	for i := 0; i < cfg.Runs; i++ {
		if err := pool.Submit(ctx, Job{ID: i, Seed: cfg.BaseSeed + int64(i)}); err != nil {
			pool.Close()
			return nil, err
		}
	}
	pool.Close()

	results := make([]JobResult, 0, cfg.Runs)
	for r := range pool.Results() {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].JobID < results[j].JobID })

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := summarize(results)
	summary.Pool = pool.GetStats()
	log.Debug("sweep finished", "runs", summary.Runs, "failures", summary.Failures,
		"worst_seed", summary.WorstSeed)
	return summary, nil
}

func summarize(results []JobResult) *SweepSummary {
	summary := &SweepSummary{Runs: len(results), Results: results}
	methods := []string{MethodEngine, MethodMedian, MethodMean}
	agg := make(map[string]*MethodSummary, len(methods))
	for _, m := range methods {
		agg[m] = &MethodSummary{Method: m}
	}

	ok := 0
	worst := -1.0
	for _, r := range results {
		if r.Err != nil {
			summary.Failures++
			log.Warn("sweep run failed", "seed", r.Seed, "error", r.Err.Error())
			continue
		}
		ok++
		for _, s := range r.Report.Scores {
			a := agg[s.Method]
			if a == nil {
				continue
			}
			if s.WithinThreshold {
				a.Passed++
			}
			a.WorstMaxError = math.Max(a.WorstMaxError, s.MaxError)
			a.AvgMeanError += s.MeanError
			if s.Method == MethodEngine && s.MaxError > worst {
				worst = s.MaxError
				summary.WorstSeed = r.Seed
			}
		}
	}

	for _, m := range methods {
		a := agg[m]
		if ok > 0 {
			a.AvgMeanError /= float64(ok)
		}
		summary.Methods = append(summary.Methods, *a)
	}
	return summary
}
