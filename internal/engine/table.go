package engine

// Resolution is the number of buckets allocated per input sample.
const Resolution = 50

// binEnd is subtracted from the sample count in the weight denominator.
// It is always 1; kept as a named constant so the formula reads as written.
const binEnd = 1

// Bucket is one slot of the table: an anchor, a scaled weight source and a
// directed [LowerBound, UpperBound] interval of width 3·increment.
type Bucket struct {
	LowerAnchor  float64
	ScaledAnchor float64
	LowerBound   float64
	UpperBound   float64
	WeightFactor float64
}

// Table is the ordered bucket table built from one input sequence.
type Table struct {
	Buckets []Bucket
}

// Len returns the number of buckets.
func (t Table) Len() int { return len(t.Buckets) }

// span returns the sequence extremes and the sum accumulated in input order.
func span(seq []float64) (lo, hi, sum float64) {
	lo, hi = seq[0], seq[0]
	for _, v := range seq {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
		sum += v
	}
	return lo, hi, sum
}

// BuildTable builds the Resolution×N bucket table for seq under bound.
// Callers must pass N ≥ 2; shorter sequences never reach the table.
//
// Expectations:
//   - Returns exactly Resolution*len(seq) buckets
//   - Anchor and bounds of index k depend only on k and the sign of the outer
//     sample being iterated, never on that sample's magnitude
//   - UpperBound = LowerAnchor + inc, LowerBound = LowerAnchor - 2*inc
//   - Increments and weights are 0 where their denominator is not positive
func BuildTable(seq []float64, bound float64) Table {
	n := len(seq)
	lo, hi, _ := span(seq)

	var negSpan, posSpan float64
	if lo < 0 {
		negSpan = -lo
	}
	if hi > 0 {
		posSpan = hi
	}

	slots := Resolution * n
	var incNeg, incPos float64
	if slots-1 > 0 {
		incNeg = negSpan / float64(slots-1)
		incPos = posSpan / float64(slots-1)
	}

	buckets := make([]Bucket, slots)
	k := 0
	for _, s := range seq {
		inc := incPos
		if s < 0 {
			inc = incNeg
		}
		for range Resolution {
			// Explicit conversions keep products rounded on their own so no
			// platform fuses them into the following add.
			anchor := lo + float64(inc*float64(k+1))
			scaled := float64(k+1) * bound / float64(slots)
			var weight float64
			if n-binEnd > 0 {
				weight = scaled / float64(n-binEnd)
			}
			buckets[k] = Bucket{
				LowerAnchor:  anchor,
				ScaledAnchor: scaled,
				LowerBound:   anchor - float64(inc*2),
				UpperBound:   anchor + inc,
				WeightFactor: weight,
			}
			k++
		}
	}
	return Table{Buckets: buckets}
}

// Match accumulates, for every sample, the weight of the first bucket whose
// interval contains it. With reverse set the weight column is read back to
// front; the interval test itself is unchanged.
//
// Expectations:
//   - Scans buckets in ascending index order and stops at the first hit
//   - Samples matching no bucket contribute 0
//   - reverse=true attaches weight[len-1-a] to bucket a
func (t Table) Match(seq []float64, reverse bool) float64 {
	weights := make([]float64, len(t.Buckets))
	for i, b := range t.Buckets {
		weights[i] = b.WeightFactor
	}
	if reverse {
		for i, j := 0, len(weights)-1; i < j; i, j = i+1, j-1 {
			weights[i], weights[j] = weights[j], weights[i]
		}
	}

	last := len(weights) - 1
	var acc float64
	for _, v := range seq {
		for a, b := range t.Buckets {
			if b.LowerBound <= v && v <= b.UpperBound {
				acc += weights[min(a, last)]
				break
			}
		}
	}
	return acc
}

// Normalize rescales acc by the sequence's average ratio and caps it at bound.
// For two-sample sequences the capped value is subtracted from bound.
//
// Expectations:
//   - averageRatio = sum/(N*|max|)*100, with |max| replaced by 1 when max == 0
//   - bound replaces the scaled value only when bound < value (NaN survives)
//   - N == 2 returns bound - normalized
//   - No lower clamp: negative results pass through
func Normalize(acc float64, seq []float64, bound float64) float64 {
	n := len(seq)
	_, hi, sum := span(seq)

	magnitude := 1.0
	if hi != 0 {
		magnitude = hi
		if magnitude < 0 {
			magnitude = -magnitude
		}
	}
	averageRatio := (sum / (float64(n) * magnitude)) * 100

	normalized := (acc / 100) * averageRatio
	if bound < normalized {
		normalized = bound
	}
	if n == 2 {
		return bound - normalized
	}
	return normalized
}

// Compute runs builder, matcher and normalizer without touching any fallback
// state. Sequences shorter than two samples short-circuit to bound/100.
func Compute(seq []float64, bound float64, reverse bool) float64 {
	if len(seq) < 2 {
		return bound / 100
	}
	table := BuildTable(seq, bound)
	acc := table.Match(seq, reverse)
	return Normalize(acc, seq, bound)
}
