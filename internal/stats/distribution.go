package stats

import (
	"math"
	"sync"

	"github.com/influxdata/tdigest"
)

// DefaultCompression keeps roughly 100 centroids (~10KB) per digest.
const DefaultCompression = 100

// Distribution tracks percentiles of a stream of observations.
//
// Thread-safe: tdigest itself is not, so every access takes mu.
type Distribution struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	count  int64
	sum    float64
	min    float64
	max    float64
}

// NewDistribution creates an empty distribution.
func NewDistribution() *Distribution {
	return &Distribution{
		digest: tdigest.NewWithCompression(DefaultCompression),
		min:    math.Inf(1),
		max:    math.Inf(-1),
	}
}

// Add records one observation.
func (d *Distribution) Add(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.digest.Add(v, 1)
	d.count++
	d.sum += v
	d.min = math.Min(d.min, v)
	d.max = math.Max(d.max, v)
}

// Percentiles is a summary of a Distribution.
type Percentiles struct {
	Count int64
	Mean  float64
	Min   float64
	P50   float64
	P95   float64
	P99   float64
	Max   float64
}

// Percentiles summarizes the observations so far. Zero when empty.
func (d *Distribution) Percentiles() Percentiles {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 0 {
		return Percentiles{}
	}
	return Percentiles{
		Count: d.count,
		Mean:  d.sum / float64(d.count),
		Min:   d.min,
		P50:   d.digest.Quantile(0.50),
		P95:   d.digest.Quantile(0.95),
		P99:   d.digest.Quantile(0.99),
		Max:   d.max,
	}
}

// Quantile returns the estimated value at q (0.0-1.0), or 0 when empty.
func (d *Distribution) Quantile(q float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 0 {
		return 0
	}
	return d.digest.Quantile(q)
}

// Count returns the number of observations.
func (d *Distribution) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
