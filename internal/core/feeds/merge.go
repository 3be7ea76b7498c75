package feeds

import "Currents/internal/core/content"

// Merge combines the oldest-first list with the newest-first live tail of
// the same logical sequence into one ascending list. It starts from
// oldestFirst, then appends, in reverse order, every newestFirst item not
// already present. Presence is by id only, so a row already placed by
// oldestFirst is never duplicated even when newestFirst carries fresher
// field values for it. Deterministic given its two inputs.
func Merge(oldestFirst, newestFirst []content.Item) []content.Item {
	out := make([]content.Item, 0, len(oldestFirst)+len(newestFirst))
	seen := make(map[string]struct{}, len(oldestFirst))
	for _, it := range oldestFirst {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	for i := len(newestFirst) - 1; i >= 0; i-- {
		it := newestFirst[i]
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}
