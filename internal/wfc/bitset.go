package wfc

import "math/bits"

// tileSet is a fixed-size bitset of palette indices
type tileSet []uint64

func newTileSet(n int) tileSet {
	return make(tileSet, (n+63)/64)
}

// fullTileSet returns a set containing indices 0..n-1
func fullTileSet(n int) tileSet {
	s := newTileSet(n)
	for i := range s {
		s[i] = ^uint64(0)
	}
	if rem := n % 64; rem != 0 {
		s[len(s)-1] = (uint64(1) << uint(rem)) - 1
	}
	return s
}

func (s tileSet) add(i int) {
	s[i/64] |= uint64(1) << uint(i%64)
}

func (s tileSet) has(i int) bool {
	return s[i/64]&(uint64(1)<<uint(i%64)) != 0
}

func (s tileSet) count() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

func (s tileSet) empty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

func (s tileSet) clone() tileSet {
	out := make(tileSet, len(s))
	copy(out, s)
	return out
}

// clear removes every index
func (s tileSet) clear() {
	for i := range s {
		s[i] = 0
	}
}

// unionWith adds every index of o to s
func (s tileSet) unionWith(o tileSet) {
	for i := range s {
		s[i] |= o[i]
	}
}

// intersectWith keeps only indices also in o and reports whether s shrank
func (s tileSet) intersectWith(o tileSet) bool {
	changed := false
	for i := range s {
		w := s[i] & o[i]
		if w != s[i] {
			s[i] = w
			changed = true
		}
	}
	return changed
}

// indices returns the members in ascending order
func (s tileSet) indices() []int {
	out := make([]int, 0, s.count())
	for i, w := range s {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, i*64+b)
			w &^= uint64(1) << uint(b)
		}
	}
	return out
}
