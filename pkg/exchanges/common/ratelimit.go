package common

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WeightTracker follows the request weight the exchange reports back in the
// X-MBX-USED-WEIGHT-1M header.
type WeightTracker struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	log           *logrus.Logger
	mu            sync.RWMutex
}

// NewWeightTracker creates a tracker for limit weight per resetInterval.
func NewWeightTracker(limit int, resetInterval time.Duration, logger *logrus.Logger) *WeightTracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WeightTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           logger,
	}
}

// UpdateFromHeader records the used weight from a response header value.
func (wt *WeightTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	if time.Since(wt.lastReset) >= wt.resetInterval {
		wt.lastReset = time.Now()
	}
	wt.usedWeight = weight

	pct := float64(wt.usedWeight) / float64(wt.limit) * 100
	entry := wt.log.WithFields(logrus.Fields{"used": wt.usedWeight, "limit": wt.limit})
	if pct >= 95 {
		entry.Error("request weight critical")
	} else if pct >= 80 {
		entry.Warn("request weight high")
	}
}

// Usage returns current usage information.
func (wt *WeightTracker) Usage() (used int, limit int, percentage float64) {
	wt.mu.RLock()
	defer wt.mu.RUnlock()

	if time.Since(wt.lastReset) >= wt.resetInterval {
		return 0, wt.limit, 0
	}
	return wt.usedWeight, wt.limit, float64(wt.usedWeight) / float64(wt.limit) * 100
}

// ShouldDelay reports whether the next request should back off.
func (wt *WeightTracker) ShouldDelay() bool {
	_, _, pct := wt.Usage()
	return pct >= 90
}
