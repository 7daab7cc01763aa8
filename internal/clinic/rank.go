// Package clinic ranks clinic directory snapshots and provides the directory
// backends the consult service reads them from.
package clinic

import (
	"cmp"
	"slices"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// DefaultShortlistSize is the number of clinics embedded in a consult request.
const DefaultShortlistSize = 5

// Rank returns a sorted copy of clinics: PEP providers first, then (when
// lgbtqiaPlus is set) higher LGBTQIA+ friendliness, then 24/7 clinics. Name and
// id break the remaining ties so the order is deterministic.
func Rank(clinics []models.Clinic, lgbtqiaPlus bool) []models.Clinic {
	out := slices.Clone(clinics)
	slices.SortStableFunc(out, func(a, b models.Clinic) int {
		if c := compareDesc(a.OffersPEP, b.OffersPEP); c != 0 {
			return c
		}
		if lgbtqiaPlus {
			if c := cmp.Compare(b.LGBTQIAFriendly, a.LGBTQIAFriendly); c != 0 {
				return c
			}
		}
		if c := compareDesc(a.Open24x7, b.Open24x7); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Shortlist ranks clinics and keeps the first n. A non-positive n uses
// DefaultShortlistSize.
func Shortlist(clinics []models.Clinic, lgbtqiaPlus bool, n int) []models.Clinic {
	if n <= 0 {
		n = DefaultShortlistSize
	}
	ranked := Rank(clinics, lgbtqiaPlus)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// compareDesc orders true before false.
func compareDesc(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}
