// Package overlay implements the layered record store: an immutable base
// list, a persisted override list and a persisted tombstone set merged into
// one effective view.
package overlay

// Merge computes the effective view of a record set. Base records appear in
// their original order, minus tombstoned IDs, each replaced by its override
// when one exists; overrides whose ID has no base counterpart follow in
// insertion order. An override of a tombstoned base ID stays hidden. The
// result never contains an ID twice: the first occurrence wins.
func Merge[T any](base, overrides []T, tombstones []string, id func(T) string) []T {
	dead := make(map[string]struct{}, len(tombstones))
	for _, t := range tombstones {
		dead[t] = struct{}{}
	}
	over := make(map[string]T, len(overrides))
	for _, o := range overrides {
		if _, dup := over[id(o)]; !dup {
			over[id(o)] = o
		}
	}

	inBase := make(map[string]struct{}, len(base))
	seen := make(map[string]struct{}, len(base)+len(overrides))
	out := make([]T, 0, len(base)+len(overrides))
	for _, b := range base {
		k := id(b)
		inBase[k] = struct{}{}
		if _, ok := dead[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if o, ok := over[k]; ok {
			out = append(out, o)
			continue
		}
		out = append(out, b)
	}
	for _, o := range overrides {
		k := id(o)
		if _, ok := inBase[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, o)
	}
	return out
}
