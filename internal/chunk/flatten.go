package chunk

import (
	"fmt"
	"sort"
	"strings"
)

// FlattenStats produces the stat_-prefixed flat metadata fields for a
// monster's structured statistics block, and the prose prefix that gets
// prepended to the chunk's text so the embedding model sees the stats
// alongside the descriptive prose.
//
// fields is ordered deterministically (sorted by key) so the prose
// prefix and the resulting metadata are reproducible across runs.
func FlattenStats(fields map[string]string) (prefix string, metadata Metadata) {
	metadata = make(Metadata, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := fields[k]
		metadata["stat_"+k] = v
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	return b.String(), metadata
}

// PrependStats returns text with the flattened stat-block prose
// prepended, so both the stats and the descriptive prose are part of
// the embedding signal.
func PrependStats(fields map[string]string, text string) (string, Metadata) {
	prefix, metadata := FlattenStats(fields)
	return prefix + text, metadata
}
