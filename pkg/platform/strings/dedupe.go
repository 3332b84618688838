// Package strings provides string manipulation utilities.
package strings

// DedupeBy keeps the first value for every distinct key(value), preserving
// order. Values whose key is empty are dropped.
//
// Example:
//
//	DedupeBy([]string{"Heat", " heat", "", "Alien"}, domain.NormalizeTitle)
//	// Returns: []string{"Heat", "Alien"}
func DedupeBy(values []string, key func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		k := key(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}
