package pagerank

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats describes one ranking run.
type Stats struct {
	RunID        string        `json:"runId"`
	StartedAt    time.Time     `json:"startedAt"`
	Iterations   int           `json:"iterations"`
	Converged    bool          `json:"converged"`
	TimedOut     bool          `json:"timedOut"`
	Delta        float64       `json:"delta"` // last L1 change
	Nodes        int           `json:"nodes"`
	Edges        int           `json:"edges"`
	Density      float64       `json:"density"`
	Duration     time.Duration `json:"duration"`
	Distribution Distribution  `json:"distribution"`
}

// Distribution summarizes normalized scores.
type Distribution struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

func distribution(scores []float64) Distribution {
	if len(scores) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)

	d := Distribution{
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		d.StdDev = stat.StdDev(sorted, nil)
	}
	return d
}
