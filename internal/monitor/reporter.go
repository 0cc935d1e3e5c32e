package monitor

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	StatusUpdateInterval     = 2000 * time.Millisecond
	LiveStatusUpdateInterval = 250 * time.Millisecond
)

// Reporter decides when channel statuses are published: at once on any
// change, every StatusUpdateInterval otherwise, and every
// LiveStatusUpdateInterval while some channel has live data.
type Reporter struct {
	idleEvery time.Duration
	liveEvery time.Duration
	idle      *rate.Limiter
	live      *rate.Limiter
}

// NewReporter creates a Reporter with the given intervals. Zero intervals take
// the defaults.
func NewReporter(idleEvery, liveEvery time.Duration) *Reporter {
	if idleEvery <= 0 {
		idleEvery = StatusUpdateInterval
	}
	if liveEvery <= 0 {
		liveEvery = LiveStatusUpdateInterval
	}
	return &Reporter{
		idleEvery: idleEvery,
		liveEvery: liveEvery,
		idle:      rate.NewLimiter(rate.Every(idleEvery), 1),
		live:      rate.NewLimiter(rate.Every(liveEvery), 1),
	}
}

// Due reports whether a report should be sent at now. A true result counts as
// a send.
func (r *Reporter) Due(now time.Time, changed, haveLiveData bool) bool {
	switch {
	case changed:
	case r.idle.AllowN(now, 1):
	case haveLiveData && r.live.AllowN(now, 1):
	default:
		return false
	}
	r.sent(now)
	return true
}

// sent restarts both intervals from now.
func (r *Reporter) sent(now time.Time) {
	r.idle = rate.NewLimiter(rate.Every(r.idleEvery), 1)
	r.idle.AllowN(now, 1)
	r.live = rate.NewLimiter(rate.Every(r.liveEvery), 1)
	r.live.AllowN(now, 1)
}
