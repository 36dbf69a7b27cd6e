package api

import (
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// failureLog keeps recent login failure times per key in memory.
// It holds at most maxKeys keys; the stalest key is evicted first.
type failureLog struct {
	mu      sync.Mutex
	byKey   map[string][]time.Time
	horizon time.Duration
	maxKeys int
}

func newFailureLog(horizon time.Duration, maxKeys int) *failureLog {
	return &failureLog{
		byKey:   make(map[string][]time.Time),
		horizon: horizon,
		maxKeys: maxKeys,
	}
}

func (l *failureLog) record(key string, now time.Time) {
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	list := pruneBefore(l.byKey[key], now.Add(-l.horizon))
	if _, ok := l.byKey[key]; !ok && len(l.byKey) >= l.maxKeys {
		l.evictLocked(now)
	}
	l.byKey[key] = append(list, now)
}

func (l *failureLog) recent(key string, now time.Time) []time.Time {
	if key == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	list := pruneBefore(l.byKey[key], now.Add(-l.horizon))
	if len(list) == 0 {
		delete(l.byKey, key)
		return nil
	}
	l.byKey[key] = list
	out := make([]time.Time, len(list))
	copy(out, list)
	return out
}

func (l *failureLog) reset(key string) {
	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
}

// evictLocked drops expired keys, then the key with the oldest last failure.
func (l *failureLog) evictLocked(now time.Time) {
	cut := now.Add(-l.horizon)
	var (
		stalest   string
		stalestAt time.Time
	)
	for k, list := range l.byKey {
		last := list[len(list)-1]
		if last.Before(cut) {
			delete(l.byKey, k)
			continue
		}
		if stalest == "" || last.Before(stalestAt) {
			stalest, stalestAt = k, last
		}
	}
	if len(l.byKey) >= l.maxKeys && stalest != "" {
		delete(l.byKey, stalest)
	}
}

func pruneBefore(list []time.Time, cut time.Time) []time.Time {
	i := 0
	for i < len(list) && list[i].Before(cut) {
		i++
	}
	return list[i:]
}

// evaluateWindowThrottle blocks once max failures fall inside window.
// retry is how long until enough of them age out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	in := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) && !f.After(now) {
			in = append(in, f)
		}
	}
	if len(in) < max {
		return false, 0
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Before(in[j]) })

	// Count drops below max once the first len(in)-max+1 failures expire.
	retry := in[len(in)-max].Add(window).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}

// evaluateProgressiveLockout applies the first tier (highest threshold first)
// whose threshold is met and whose lock, counted from the latest failure, is still running.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}
	for _, t := range tiers {
		if t.Threshold <= 0 || len(failures) < t.Threshold {
			continue
		}
		if retry := latest.Add(t.Duration).Sub(now); retry > 0 {
			return true, retry
		}
	}
	return false, 0
}

func (h *Handler) checkLoginIPThrottle(ip net.IP, now time.Time) (bool, time.Duration) {
	if ip == nil || h.cfg.LoginIPMax <= 0 {
		return false, 0
	}
	return evaluateWindowThrottle(now, h.ipFailures.recent(ip.String(), now), h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
}

func (h *Handler) checkLoginIdentifierThrottle(identifier string, now time.Time) (bool, time.Duration) {
	if identifier == "" {
		return false, 0
	}
	return evaluateProgressiveLockout(now, h.idFailures.recent(identifier, now), h.cfg.lockoutTiers())
}

func (h *Handler) recordLoginFailure(ip net.IP, identifier string, now time.Time) {
	if ip != nil {
		h.ipFailures.record(ip.String(), now)
	}
	h.idFailures.record(identifier, now)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many attempts")
}

func lockoutHorizon(tiers []lockoutTier) time.Duration {
	var d time.Duration
	for _, t := range tiers {
		if t.Duration > d {
			d = t.Duration
		}
	}
	return d
}
