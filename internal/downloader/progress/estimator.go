package progress

import "time"

const (
	// projectionMultiplier is the fixed heuristic used to guess the total
	// download size from the bytes seen so far. The stream itself never tells
	// us the total, so the resulting ETA is advisory only.
	projectionMultiplier = 15

	// projectionMinBytes gates the ETA until enough data has arrived for the
	// projection to mean anything (1 MiB).
	projectionMinBytes = 1024 * 1024
)

// Estimate is the advisory throughput/ETA derived from the latest sample.
// A false Has* flag means the corresponding value is not yet known.
type Estimate struct {
	SpeedBps   float64
	ETASeconds float64
	HasSpeed   bool
	HasETA     bool
}

// Estimator turns cumulative byte-count samples into a smoothed throughput
// and a remaining-time guess. State is local to one job.
type Estimator struct {
	startedAt time.Time
	latest    Estimate
}

// NewEstimator seeds the estimator with the job's start time.
func NewEstimator(startedAt time.Time) *Estimator {
	return &Estimator{startedAt: startedAt}
}

// Sample records a new (timestamp, cumulative bytes) observation and returns
// the refreshed estimate. Throughput is bytes over elapsed wall clock since
// the job started; zero elapsed yields no estimate.
func (e *Estimator) Sample(at time.Time, bytes int64) Estimate {
	elapsed := at.Sub(e.startedAt).Seconds()
	if elapsed <= 0 || bytes < 0 {
		return e.latest
	}

	est := Estimate{
		SpeedBps: float64(bytes) / elapsed,
		HasSpeed: true,
	}

	if bytes > projectionMinBytes && est.SpeedBps > 0 {
		projected := bytes * projectionMultiplier
		remaining := float64(projected - bytes)
		est.ETASeconds = remaining / est.SpeedBps
		est.HasETA = true
	}

	e.latest = est
	return est
}

// Latest returns the most recent estimate without consuming a sample.
func (e *Estimator) Latest() Estimate {
	return e.latest
}
