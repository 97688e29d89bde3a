package order

import (
	"strconv"
	"sync"
	"time"
)

const trackingPrefix = "TRK"

// TrackingGenerator issues "TRK<millis>" identifiers that strictly increase
// within one process. Uniqueness across processes is enforced by storage.
type TrackingGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewTrackingGenerator(now func() time.Time) *TrackingGenerator {
	if now == nil {
		now = time.Now
	}
	return &TrackingGenerator{now: now}
}

func (g *TrackingGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return trackingPrefix + strconv.FormatInt(ms, 10)
}
