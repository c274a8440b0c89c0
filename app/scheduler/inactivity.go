package scheduler

import (
	"math"
	"sync"
	"time"

	"github.com/ReZill392/Thesit-sub000/utils"
)

// Band returns the symmetric tolerance in minutes around a target
func Band(targetMinutes float64) float64 {
	return math.Max(utils.InactivityBandFloor, utils.InactivityBandRatio*targetMinutes)
}

// WithinBand reports whether minutes falls inside the band around target
func WithinBand(minutes, targetMinutes float64) bool {
	return math.Abs(minutes-targetMinutes) <= Band(targetMinutes)+1e-9
}

// InactivityHint is what the frontend (or the fallback scan) knows about one user
type InactivityHint struct {
	PSID              string
	LastMessageTime   *time.Time
	InactivityMinutes float64
	UpdatedAt         time.Time
}

// MinutesAt ages the hint to now: the reported minutes plus the time since it was reported
func (h InactivityHint) MinutesAt(now time.Time) float64 {
	if now.Before(h.UpdatedAt) {
		return h.InactivityMinutes
	}
	return h.InactivityMinutes + now.Sub(h.UpdatedAt).Minutes()
}

// InactivityTable holds the per-page inactivity hints shared by both cohorts
type InactivityTable struct {
	mu        sync.RWMutex
	pages     map[string]map[string]InactivityHint
	refreshed map[string]time.Time
}

func NewInactivityTable() *InactivityTable {
	return &InactivityTable{
		pages:     make(map[string]map[string]InactivityHint),
		refreshed: make(map[string]time.Time),
	}
}

// Update merges hints for a page; entries for other users are kept
func (t *InactivityTable) Update(pageID string, hints []InactivityHint, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	page, ok := t.pages[pageID]
	if !ok {
		page = make(map[string]InactivityHint, len(hints))
		t.pages[pageID] = page
	}
	n := 0
	for _, h := range hints {
		if h.PSID == "" {
			continue
		}
		if h.UpdatedAt.IsZero() {
			h.UpdatedAt = now
		}
		page[h.PSID] = h
		n++
	}
	t.refreshed[pageID] = now
	return n
}

// Stale reports whether the page has no hints or none newer than maxAge
func (t *InactivityTable) Stale(pageID string, now time.Time, maxAge time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.refreshed[pageID]
	return !ok || len(t.pages[pageID]) == 0 || now.Sub(at) > maxAge
}

// Matching returns the users of a page whose aged inactivity is within the band of target
func (t *InactivityTable) Matching(pageID string, target time.Duration, now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	targetMinutes := target.Minutes()
	var out []string
	for psid, h := range t.pages[pageID] {
		if WithinBand(h.MinutesAt(now), targetMinutes) {
			out = append(out, psid)
		}
	}
	return out
}

// Get returns one user's hint
func (t *InactivityTable) Get(pageID, psid string) (InactivityHint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.pages[pageID][psid]
	return h, ok
}
