// Package reload coalesces bursts of view invalidations into bounded-rate
// refreshes so an event storm cannot trigger redundant backend round-trips.
package reload

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler rate-limits refreshes of named derived views. For each view it
// keeps a last-refresh timestamp and at most one pending trailing timer:
// a stale view refreshes immediately, a recently-refreshed one gets a single
// trailing refresh that every further invalidation in the burst re-arms.
// The trailing refresh never fires sooner than minInterval after the
// previous refresh, and never sooner than debounce after the last
// invalidation.
type Scheduler struct {
	mu          sync.Mutex
	minInterval time.Duration
	debounce    time.Duration
	refresh     func(view string)
	views       map[string]*viewState
	stopped     bool
	logger      *zap.Logger
}

type viewState struct {
	lastRefresh time.Time
	timer       *time.Timer
}

// New creates a scheduler. refresh runs on its own goroutine, once per
// coalesced burst. Zero durations use the defaults (2s min interval,
// 500ms debounce). logger may be nil.
func New(minInterval, debounce time.Duration, refresh func(view string), logger *zap.Logger) *Scheduler {
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		minInterval: minInterval,
		debounce:    debounce,
		refresh:     refresh,
		views:       make(map[string]*viewState),
		logger:      logger,
	}
}

// Request marks the view invalid. Any number of requests inside one debounce
// window produce exactly one refresh.
func (s *Scheduler) Request(view string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	vs := s.views[view]
	if vs == nil {
		vs = &viewState{}
		s.views[view] = vs
	}

	now := time.Now()
	if vs.timer == nil && now.Sub(vs.lastRefresh) >= s.minInterval {
		vs.lastRefresh = now
		s.mu.Unlock()
		go s.refresh(view)
		return
	}

	delay := s.debounce
	if earliest := vs.lastRefresh.Add(s.minInterval); now.Add(delay).Before(earliest) {
		delay = earliest.Sub(now)
	}
	if vs.timer != nil {
		vs.timer.Stop()
	}
	vs.timer = time.AfterFunc(delay, func() { s.fire(view) })
	s.mu.Unlock()
}

func (s *Scheduler) fire(view string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	vs := s.views[view]
	if vs == nil {
		s.mu.Unlock()
		return
	}
	vs.timer = nil
	vs.lastRefresh = time.Now()
	s.mu.Unlock()

	s.logger.Debug("coalesced refresh", zap.String("view", view))
	s.refresh(view)
}

// Stop cancels all pending refreshes. Further requests are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, vs := range s.views {
		if vs.timer != nil {
			vs.timer.Stop()
			vs.timer = nil
		}
	}
}
