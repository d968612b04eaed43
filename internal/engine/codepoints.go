package engine

// CodePoints reduces text to one value per rune, in order.
func CodePoints(text string) []float64 {
	out := make([]float64, 0, len(text))
	for _, r := range text {
		out = append(out, float64(r))
	}
	return out
}

type scriptRange struct {
	lo, hi rune
	prefix float64
}

// scriptRanges are checked in order; the first containing range wins.
var scriptRanges = []scriptRange{
	{0xAC00, 0xD7AF, 1000000}, // Hangul syllables
	{0x3040, 0x309F, 2000000}, // Hiragana
	{0x30A0, 0x30FF, 3000000}, // Katakana
	{0x4E00, 0x9FFF, 4000000}, // CJK unified ideographs
	{0x0410, 0x044F, 5000000}, // Cyrillic
	{0x0041, 0x007A, 6000000}, // Latin
	{0x0590, 0x05FF, 7000000}, // Hebrew
	{0x00C0, 0x00FD, 8000000}, // Latin-1 letters (Vietnamese)
	{0x0E00, 0x0E7F, 9000000}, // Thai
}

// PrefixedCodePoints is CodePoints with a per-script offset added, so texts
// in different scripts land in disjoint numeric ranges. Runes outside every
// listed range are left as plain code points.
func PrefixedCodePoints(text string) []float64 {
	out := make([]float64, 0, len(text))
	for _, r := range text {
		v := float64(r)
		for _, sr := range scriptRanges {
			if r >= sr.lo && r <= sr.hi {
				v += sr.prefix
				break
			}
		}
		out = append(out, v)
	}
	return out
}
