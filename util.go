package hbm

// nextMultiple rounds value up to the next multiple of align. Alignments are
// not required to be powers of two, so the pow2 mask trick is only a fast
// path.
func nextMultiple(value, align int) int {
	if align <= 1 {
		return value
	}
	if align&(align-1) == 0 {
		return (value + align - 1) &^ (align - 1)
	}
	return (value + align - 1) / align * align
}

func divCeil(value, div int) int {
	return (value + div - 1) / div
}
