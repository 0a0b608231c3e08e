package application

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultRotationInterval is used when an interval string cannot be parsed.
const DefaultRotationInterval = time.Hour

// ParseRotationInterval parses the textual "<integer><unit>" interval the
// panel exposes: "m" for minutes, "h" for hours. Anything else falls back to
// one hour.
func ParseRotationInterval(text string) time.Duration {
	text = strings.TrimSpace(text)

	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(text, "m"):
		unit = time.Minute
	case strings.HasSuffix(text, "h"):
		unit = time.Hour
	default:
		return DefaultRotationInterval
	}

	n, err := strconv.Atoi(text[:len(text)-1])
	if err != nil || n <= 0 {
		return DefaultRotationInterval
	}
	return time.Duration(n) * unit
}

// RotationScheduler periodically refreshes the active record. It is a two
// state machine: Idle while no record is active, Armed(interval, activeID)
// otherwise. Re-arming always cancels the previous timer first, so at most
// one timer is outstanding per scheduler instance.
type RotationScheduler struct {
	refresh func(ctx context.Context, id int64) error

	// mu guards the fields below.
	mu           sync.Mutex
	intervalText string
	interval     time.Duration
	activeID     int64
	armed        bool
	stop         chan struct{}
}

// NewRotationScheduler creates a scheduler in the Idle state. refresh is
// invoked for the armed record on every tick.
func NewRotationScheduler(intervalText string, refresh func(ctx context.Context, id int64) error) *RotationScheduler {
	return &RotationScheduler{
		refresh:      refresh,
		intervalText: intervalText,
		interval:     ParseRotationInterval(intervalText),
	}
}

// Observe is the active-change hook wired to the key service: arm when a
// record becomes active, re-arm when the active record changes, disarm when
// none is active.
func (r *RotationScheduler) Observe(activeID int64, hasActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !hasActive {
		r.disarmLocked()
		return
	}
	if r.armed && r.activeID == activeID {
		return
	}
	r.armLocked(activeID)
}

// SetInterval replaces the rotation interval and re-arms the running timer so
// the new period takes effect immediately.
func (r *RotationScheduler) SetInterval(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.intervalText = text
	r.interval = ParseRotationInterval(text)
	if r.armed {
		r.armLocked(r.activeID)
	}
}

// SetIntervalDuration replaces the rotation interval with an explicit
// duration, bypassing the textual format. Re-arms like SetInterval.
func (r *RotationScheduler) SetIntervalDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.intervalText = d.String()
	r.interval = d
	if r.armed {
		r.armLocked(r.activeID)
	}
}

// Interval returns the configured interval in its textual form.
func (r *RotationScheduler) Interval() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intervalText
}

// Armed reports whether a timer is currently running and for which record.
func (r *RotationScheduler) Armed() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID, r.armed
}

// Disarm cancels any outstanding timer. Safe to call repeatedly; used on
// shutdown and when the active record disappears.
func (r *RotationScheduler) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disarmLocked()
}

// armLocked starts a fresh timer goroutine for id, cancelling the previous
// one first. Caller holds r.mu.
func (r *RotationScheduler) armLocked(id int64) {
	r.disarmLocked()

	stop := make(chan struct{})
	r.stop = stop
	r.activeID = id
	r.armed = true

	interval := r.interval
	go r.run(id, interval, stop)

	slog.Info("rotation armed", "key_id", id, "interval", interval)
}

// disarmLocked cancels the outstanding timer, if any. Caller holds r.mu.
func (r *RotationScheduler) disarmLocked() {
	if !r.armed {
		return
	}
	close(r.stop)
	r.stop = nil
	r.armed = false
	slog.Info("rotation disarmed", "key_id", r.activeID)
}

// run is the timer loop for one arming. It exits as soon as its stop channel
// closes; a tick that races a delete is a no-op on the service side.
func (r *RotationScheduler) run(id int64, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.refresh(context.Background(), id); err != nil {
				slog.Warn("scheduled refresh failed", "key_id", id, "error", err)
			}
		}
	}
}
