package storage

import (
	"cmp"
	"slices"
)

// sortByStart orders runs oldest first; ties keep task id order.
func sortByStart(runs []RunRecord) {
	slices.SortStableFunc(runs, func(a, b RunRecord) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})
}
