package sandbox

import (
	"sync"
	"time"
)

// Monitor fans a single stream of FuelUpdate samples out to any number of
// subscribers, matching the single-producer-multi-consumer shape the fuel
// monitor is specified with. A Monitor is constructed fresh per execution
// and passed by reference — never a package-level singleton — so that
// concurrent tool calls never cross-talk.
type Monitor struct {
	mu          sync.Mutex
	subscribers []chan FuelUpdate
	capacity    int
}

// NewMonitor creates a Monitor whose subscriber channels are buffered to
// capacity. A capacity of 0 yields unbuffered channels.
func NewMonitor(capacity int) *Monitor {
	return &Monitor{capacity: capacity}
}

// Subscribe registers a new consumer and returns its channel. The channel
// is closed when the Monitor is closed.
func (m *Monitor) Subscribe() <-chan FuelUpdate {
	ch := make(chan FuelUpdate, m.capacity)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Publish fans update out to every current subscriber. A subscriber whose
// buffer is full drops the update rather than blocking the producer.
func (m *Monitor) Publish(update FuelUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}

// Close closes every subscriber channel. The Monitor must not be published
// to afterward.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
}

// thresholdCrossed reports whether consumed/limit just crossed one of the
// configured percentage thresholds, for Soft-mode warning emission.
func thresholdCrossed(prevConsumed, consumed, limit uint64, thresholds []float64) (float64, bool) {
	if limit == 0 {
		return 0, false
	}
	prevPct := float64(prevConsumed) / float64(limit) * 100
	curPct := float64(consumed) / float64(limit) * 100
	for _, t := range thresholds {
		if prevPct < t && curPct >= t {
			return t, true
		}
	}
	return 0, false
}

func rate(consumed uint64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(consumed) / secs
}
