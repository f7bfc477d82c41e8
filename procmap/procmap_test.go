package procmap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Mapping
		ok   bool
	}{
		{
			name: "heap",
			in:   "55a1f2b0e000-55a1f2b2f000 rw-p 00000000 00:00 0                          [heap]",
			want: Mapping{Start: 0x55a1f2b0e000, End: 0x55a1f2b2f000, Perms: "rw-p", Path: "[heap]"},
			ok:   true,
		},
		{
			name: "anon no path",
			in:   "7f1234560000-7f1234561000 r--p 00000000 08:01 131074",
			want: Mapping{Start: 0x7f1234560000, End: 0x7f1234561000, Perms: "r--p", Path: ""},
			ok:   true,
		},
		{
			name: "malformed",
			in:   "not a mapping line",
			ok:   false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := parseLine(c.in)
			require.Equal(t, c.ok, ok)
			if ok {
				require.Equal(t, c.want, got)
			}
		})
	}
}

func TestWalkFindsSelf(t *testing.T) {
	var found bool
	err := Walk(func(m Mapping) bool {
		if m.End > m.Start {
			found = true
			return true
		}
		return false
	})
	require.NoError(t, err)
	require.True(t, found, "expected at least one mapping for the test process")
}

func TestMappingContaining(t *testing.T) {
	var stackVar int
	addr := uintptr(unsafe.Pointer(&stackVar))
	start, end, ok := MappingContaining(addr)
	require.True(t, ok)
	require.LessOrEqual(t, start, addr)
	require.Less(t, addr, end)
}
