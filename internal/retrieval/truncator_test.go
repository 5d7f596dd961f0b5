package retrieval_test

import (
	"testing"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/retrieval"
	"github.com/stretchr/testify/require"
)

func withDistances(ds ...float64) []chunk.RetrievalResult {
	out := make([]chunk.RetrievalResult, len(ds))
	for i, d := range ds {
		out[i] = chunk.RetrievalResult{ID: string(rune('a' + i)), Distance: d}
	}
	return out
}

func TestTruncateAdaptiveGapCut(t *testing.T) {
	tr := retrieval.NewTruncator()
	kept := withDistances(0.12, 0.18, 0.22, 0.35, 0.50, 0.55, 0.60)

	out := tr.Truncate(kept, 15)
	require.Len(t, out, 4)
	require.Equal(t, 0.35, out[3].Distance)
}

func TestTruncateSingleResultUnchanged(t *testing.T) {
	tr := retrieval.NewTruncator()
	kept := withDistances(0.12)
	out := tr.Truncate(kept, 15)
	require.Equal(t, kept, out)
}

func TestTruncateNeverBelowMinFloor(t *testing.T) {
	tr := retrieval.NewTruncator()
	kept := withDistances(0.1, 0.11, 0.9)
	out := tr.Truncate(kept, 15)
	require.GreaterOrEqual(t, len(out), retrieval.MinFloor)
}

func TestTruncateDistanceOffsetFallback(t *testing.T) {
	tr := retrieval.NewTruncator()
	// Uniformly spaced distances (each gap 0.04, below the 0.10
	// threshold): no gap qualifies, so the distance_offset fallback
	// (distance[0] + 0.40 = 0.50) applies instead.
	kept := withDistances(0.10, 0.14, 0.18, 0.22, 0.26, 0.30, 0.34, 0.38, 0.42, 0.46, 0.50, 0.54)
	out := tr.Truncate(kept, 15)
	require.Len(t, out, 11)
}

func TestTruncateNeverExceedsK(t *testing.T) {
	tr := retrieval.NewTruncator()
	kept := withDistances(0.1, 0.11, 0.12, 0.13, 0.14, 0.90)
	out := tr.Truncate(kept, 3)
	require.Len(t, out, 3)
}
