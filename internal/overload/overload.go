package overload

import (
	"sync"
	"time"
)

const (
	defaultInterval  = 500 * time.Millisecond
	defaultThreshold = 70 * time.Millisecond
	smoothingFactor  = 0.3
)

// Monitor watches scheduler lag for the whole process. When goroutines stop
// being serviced on time the smoothed lag climbs past the threshold and
// Busy reports true, which the rooms use to shed new logins.
type Monitor struct {
	interval  time.Duration
	threshold time.Duration

	mu  sync.Mutex
	lag time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewMonitor(interval, threshold time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Monitor{
		interval:  interval,
		threshold: threshold,
		stop:      make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Busy reports whether the process is currently overloaded.
func (m *Monitor) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lag > m.threshold
}

// Lag returns the current smoothed scheduling lag.
func (m *Monitor) Lag() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lag
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			observed := now.Sub(last) - m.interval
			if observed < 0 {
				observed = 0
			}
			last = now
			m.record(observed)
		}
	}
}

func (m *Monitor) record(observed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Exponentially weighted average so a single slow tick does not flap
	// the admission decision.
	m.lag = time.Duration(float64(m.lag)*(1-smoothingFactor) + float64(observed)*smoothingFactor)
}
