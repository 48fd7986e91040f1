package presence

import (
	"sync"
	"time"
)

// Heartbeat is an explicitly owned liveness ticker: beat once on Start,
// then every interval until Stop. Best effort only; there is no offline
// event, staleness is derived from the timestamp the beat refreshes.
type Heartbeat struct {
	interval time.Duration
	beat     func()

	once sync.Once
	stop chan struct{}
}

func NewHeartbeat(interval time.Duration, beat func()) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		beat:     beat,
		stop:     make(chan struct{}),
	}
}

func (h *Heartbeat) Start() {
	h.beat()
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.beat()
			case <-h.stop:
				return
			}
		}
	}()
}

func (h *Heartbeat) Stop() {
	h.once.Do(func() { close(h.stop) })
}
