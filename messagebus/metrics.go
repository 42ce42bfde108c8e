package messagebus

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Metrics tracks runtime statistics for a Bus, if enabled via WithMetrics.
// All methods are safe to call from any goroutine.
type Metrics struct {
	// Latency of draining each queued event, from IdleTick.
	Latency LatencyMetrics

	// Depth of the pending event queue.
	Queue QueueMetrics
}

// LatencyMetrics tracks latency distribution with percentiles.
type LatencyMetrics struct {
	mu          sync.Mutex
	sampleIdx   int
	sampleCount int
	sum         time.Duration
	samples     [sampleSize]time.Duration
}

// LatencySnapshot is a point in time view of LatencyMetrics.
type LatencySnapshot struct {
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration

	// Count is the number of samples the percentiles were computed from.
	Count int
}

// sampleSize is the maximum number of latency samples to retain.
const sampleSize = 256

// Record records a latency sample.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = duration
	l.sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Snapshot computes percentiles from the retained samples. The zero value
// is returned if nothing has been recorded.
func (l *LatencyMetrics) Snapshot() (snapshot LatencySnapshot) {
	l.mu.Lock()
	count := l.sampleCount
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	snapshot.Sum = l.sum
	l.mu.Unlock()

	if count == 0 {
		return snapshot
	}
	slices.Sort(sorted)

	snapshot.Count = count
	snapshot.P50 = sorted[percentileIndex(count, 50)]
	snapshot.P90 = sorted[percentileIndex(count, 90)]
	snapshot.P95 = sorted[percentileIndex(count, 95)]
	snapshot.P99 = sorted[percentileIndex(count, 99)]
	snapshot.Max = sorted[count-1]
	snapshot.Mean = snapshot.Sum / time.Duration(count)

	return snapshot
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics tracks queue depth statistics.
type QueueMetrics struct {
	mu          sync.Mutex
	current     int
	maximum     int
	avg         float64
	initialized bool
}

// Update records the current queue depth.
func (q *QueueMetrics) Update(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.current = depth
	if depth > q.maximum {
		q.maximum = depth
	}
	if !q.initialized {
		q.avg = float64(depth)
		q.initialized = true
	} else {
		q.avg = ema(q.avg, float64(depth), 0.1)
	}
}

// Snapshot returns the current and maximum depth, and the average, an
// exponential moving average with alpha=0.1, starting at the first depth.
func (q *QueueMetrics) Snapshot() (current, maximum int, avg float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current, q.maximum, q.avg
}

func ema(avg, sample, alpha float64) float64 {
	return (1-alpha)*avg + alpha*sample
}
