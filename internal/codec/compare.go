package codec

import "bytes"

// Comparator is a cheap approximate-equality test between successive encoded
// frames. Implementations trade false negatives (re-sending an unchanged
// frame) for speed; exact pixel comparison is too costly per frame.
type Comparator interface {
	// Similar reports whether curr looks like prev. A nil or empty prev is
	// never similar.
	Similar(prev, curr []byte) bool
}

// SizeComparator treats frames whose encoded byte lengths differ by at most
// Tolerance as similar. JPEG output length tracks content closely enough for
// change detection at streaming rates.
type SizeComparator struct {
	Tolerance int
}

// Similar implements Comparator
func (c SizeComparator) Similar(prev, curr []byte) bool {
	if len(prev) == 0 {
		return false
	}
	delta := len(curr) - len(prev)
	if delta < 0 {
		delta = -delta
	}
	return delta <= c.Tolerance
}

// PrefixComparator treats frames whose first Length encoded bytes match as
// similar. Stricter than length alone for frames that happen to compress to
// the same size.
type PrefixComparator struct {
	Length int
}

// Similar implements Comparator
func (c PrefixComparator) Similar(prev, curr []byte) bool {
	if len(prev) == 0 {
		return false
	}
	n := c.Length
	if len(prev) < n || len(curr) < n {
		return bytes.Equal(prev, curr)
	}
	return bytes.Equal(prev[:n], curr[:n])
}
