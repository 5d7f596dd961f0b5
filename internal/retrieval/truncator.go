package retrieval

import "github.com/gravitycar/dnd1strag/internal/chunk"

// MinFloor is the minimum number of results truncation will keep,
// unless fewer were retrieved in the first place.
const MinFloor = 2

// DefaultGapThreshold is the minimum jump in cosine distance between
// consecutive results that counts as a semantic cliff.
const DefaultGapThreshold = 0.10

// DefaultDistanceOffset bounds how far past the closest result's
// distance the fallback cut will still include, when no gap
// qualifies.
const DefaultDistanceOffset = 0.40

// Truncator implements the adaptive gap-based cut: it keeps results up
// to the largest "semantic cliff" in similarity distances, respecting
// a floor and ceiling.
type Truncator struct {
	gapThreshold   float64
	distanceOffset float64
	minFloor       int
}

// TruncatorOption configures a Truncator.
type TruncatorOption func(*Truncator)

// WithGapThreshold overrides DefaultGapThreshold.
func WithGapThreshold(v float64) TruncatorOption {
	return func(t *Truncator) { t.gapThreshold = v }
}

// WithDistanceOffset overrides DefaultDistanceOffset.
func WithDistanceOffset(v float64) TruncatorOption {
	return func(t *Truncator) { t.distanceOffset = v }
}

// WithMinFloor overrides MinFloor.
func WithMinFloor(n int) TruncatorOption {
	return func(t *Truncator) { t.minFloor = n }
}

// NewTruncator constructs a Truncator with its default thresholds.
func NewTruncator(opts ...TruncatorOption) *Truncator {
	t := &Truncator{
		gapThreshold:   DefaultGapThreshold,
		distanceOffset: DefaultDistanceOffset,
		minFloor:       MinFloor,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Truncate decides how many of the ordered kept results to keep. The
// returned count is always between min(minFloor, len(kept)) and k.
//
// kept is assumed already ordered the way the retriever produces it
// (distance-ascending, with any comparison-promoted run at the front);
// the truncator only ever removes a trailing suffix, so it never
// disturbs that ordering.
func (t *Truncator) Truncate(kept []chunk.RetrievalResult, k int) []chunk.RetrievalResult {
	if len(kept) <= t.minFloor {
		return kept
	}

	n := len(kept)
	gaps := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		gaps[i] = kept[i+1].Distance - kept[i].Distance
	}

	cutIndex := -1
	largestGap := t.gapThreshold
	for i := 1; i < len(gaps); i++ { // skip gaps[0]
		if gaps[i] >= largestGap {
			largestGap = gaps[i]
			cutIndex = i
		}
	}

	var finalCount int
	if cutIndex >= 0 {
		finalCount = cutIndex + 1 // keep indices [0..cutIndex] inclusive
	} else {
		finalCount = n
		threshold := kept[0].Distance + t.distanceOffset
		for i, r := range kept {
			if r.Distance > threshold {
				finalCount = i
				break
			}
		}
	}

	if finalCount < t.minFloor {
		finalCount = t.minFloor
	}
	if finalCount > k {
		finalCount = k
	}
	if finalCount > n {
		finalCount = n
	}
	return kept[:finalCount]
}
