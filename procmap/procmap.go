// Package procmap enumerates the live process's memory mappings by reading
// /proc/self/maps, per the grammar in spec.md §6.
package procmap

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"golang.org/x/sys/unix"
)

// Mapping is one [start,end,perm,path] tuple from /proc/self/maps.
type Mapping struct {
	Start, End uintptr
	Perms      string
	Path       string
}

// Visitor is called once per mapping. Returning true stops the walk early.
type Visitor func(m Mapping) (stop bool)

// line matches "start-end perm4 offset8 dev:ino count  path", start/end
// being 8-16 hex digits, per spec.md §6.
var line = regexp.MustCompile(`^([0-9a-f]{8,16})-([0-9a-f]{8,16}) ([-rwxps]{4}) ([0-9a-f]{8}) ([0-9a-f]+):([0-9a-f]+) ([0-9]+)\s*(.*)$`)

// Walk visits every mapping of the calling process, in the order /proc/self/maps
// reports them. The visitor may request an early stop.
func Walk(v Visitor) error {
	fd, err := unix.Open("/proc/self/maps", unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("procmap: open /proc/self/maps: %w", err)
	}
	f := os.NewFile(uintptr(fd), "/proc/self/maps")
	defer f.Close()

	sc := bufio.NewScanner(f)
	// Some mapping lines (large paths) can exceed the default 64KiB token
	// limit; give the scanner generous headroom.
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		m, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		if v(m) {
			return nil
		}
	}
	return sc.Err()
}

func parseLine(s string) (Mapping, bool) {
	g := line.FindStringSubmatch(s)
	if g == nil {
		return Mapping{}, false
	}
	start, err1 := strconv.ParseUint(g[1], 16, 64)
	end, err2 := strconv.ParseUint(g[2], 16, 64)
	if err1 != nil || err2 != nil {
		return Mapping{}, false
	}
	return Mapping{
		Start: uintptr(start),
		End:   uintptr(end),
		Perms: g[3],
		Path:  g[8],
	}, true
}

// MappingContaining returns the [start,end) range of the mapping containing
// addr, and whether one was found.
func MappingContaining(addr uintptr) (start, end uintptr, ok bool) {
	_ = Walk(func(m Mapping) bool {
		if m.Start <= addr && addr < m.End {
			start, end, ok = m.Start, m.End, true
			return true
		}
		return false
	})
	return
}

// MappingForLibrary returns the [start,end) span covered by every mapping
// whose path exactly equals libPath, coalesced into the lowest start and
// highest end observed (a shared object is typically mapped as several
// adjacent segments with differing permissions).
func MappingForLibrary(libPath string) (start, end uintptr, ok bool) {
	_ = Walk(func(m Mapping) bool {
		if m.Path != libPath {
			return false
		}
		if !ok || m.Start < start {
			start = m.Start
		}
		if m.End > end {
			end = m.End
		}
		ok = true
		return false
	})
	return
}
