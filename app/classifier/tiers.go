package classifier

import (
	"sort"

	"github.com/ReZill392/Thesit-sub000/models"
)

// ActiveTier walks tiers by ascending threshold while the threshold is at
// most days and returns the last match, or nil below the first threshold
func ActiveTier(tiers []*models.RetargetTier, days int) *string {
	sorted := make([]*models.RetargetTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DaysSinceLastContact < sorted[j].DaysSinceLastContact
	})

	var active *string
	for _, t := range sorted {
		if t.DaysSinceLastContact > days {
			break
		}
		name := t.TierName
		active = &name
	}
	return active
}
