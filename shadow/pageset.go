package shadow

import (
	"sync"

	"golang.org/x/exp/slices"
)

// pageRange is a half-open [start, end) span of shadow-page addresses.
type pageRange struct {
	start, end uintptr
}

// pageSet is the shadow-page set of spec.md §3: the ordered set of shadow
// page ranges already mapped RW. Supports gap enumeration for lazy
// materialization, and grows monotonically (ranges are only ever added,
// never removed).
type pageSet struct {
	mu     sync.Mutex
	ranges []pageRange // sorted by start, pairwise disjoint and non-adjacent
}

// gaps returns the portions of [start, end) not yet covered by any range in
// the set, in ascending order.
func (s *pageSet) gaps(start, end uintptr) []pageRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gapsLocked(start, end)
}

func (s *pageSet) gapsLocked(start, end uintptr) []pageRange {
	if start >= end {
		return nil
	}

	idx, _ := slices.BinarySearchFunc(s.ranges, start, func(r pageRange, v uintptr) int {
		switch {
		case r.end <= v:
			return -1
		case r.start > v:
			return 1
		default:
			return 0
		}
	})

	var out []pageRange
	cursor := start
	for i := idx; i < len(s.ranges) && cursor < end; i++ {
		r := s.ranges[i]
		if r.start > cursor {
			gapEnd := r.start
			if gapEnd > end {
				gapEnd = end
			}
			out = append(out, pageRange{cursor, gapEnd})
		}
		if r.end > cursor {
			cursor = r.end
		}
	}
	if cursor < end {
		out = append(out, pageRange{cursor, end})
	}
	return out
}

// insert records [start, end) as now mapped, merging with any overlapping
// or adjacent ranges already present. Idempotent: inserting an
// already-covered range is a no-op on the resulting set's contents (spec.md
// §8 Testable Property 5).
func (s *pageSet) insert(start, end uintptr) {
	if start >= end {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(start, end)
}

func (s *pageSet) insertLocked(start, end uintptr) {
	idx, _ := slices.BinarySearchFunc(s.ranges, start, func(r pageRange, v uintptr) int {
		switch {
		case r.end < v:
			return -1
		case r.start > v:
			return 1
		default:
			return 0
		}
	})

	lo := idx
	for lo > 0 && s.ranges[lo-1].end >= start {
		lo--
	}
	hi := idx
	for hi < len(s.ranges) && s.ranges[hi].start <= end {
		hi++
	}

	ns, ne := start, end
	if lo < hi {
		if s.ranges[lo].start < ns {
			ns = s.ranges[lo].start
		}
		if s.ranges[hi-1].end > ne {
			ne = s.ranges[hi-1].end
		}
	}

	merged := make([]pageRange, 0, len(s.ranges)-(hi-lo)+1)
	merged = append(merged, s.ranges[:lo]...)
	merged = append(merged, pageRange{ns, ne})
	merged = append(merged, s.ranges[hi:]...)
	s.ranges = merged
}
