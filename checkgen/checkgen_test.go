package checkgen

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wantWords are the reference instruction words for each width's blob,
// transcribed by hand from the same fixed sequence Generate emits (see
// DESIGN.md). Re-deriving them independently here guards against Generate
// and its test sharing a copy-paste bug in the encoders.
func wantWords(bit uint32) []uint32 {
	return []uint32{
		0xD2800021,                // mov x1, #1
		0x8B0193E1,                // add x1, xzr, x1, lsl #36
		0x8B400C21,                // add x1, x1, x0, lsr #3
		0x79400021,                // ldrh w1, [x1, #0]
		0x92400800,                // and x0, x0, #7
		0x5AC00421,                // rev16 w1, w1
		0x5AC00021,                // rbit w1, w1
		0xD350FC21,                // lsr x1, x1, #16
		0x9AC02421,                // lsr x1, x1, x0
		0x37000041 | (bit << 19), // tbnz x1, #bit, ->done
		0xD4200000 | (bit << 5),  // brk #bit
	}
}

func TestGenerate(t *testing.T) {
	cases := []struct {
		name string
		w    Width
		bit  uint32
	}{
		{"1", Width1, 0},
		{"2", Width2, 1},
		{"4", Width4, 2},
		{"8", Width8, 3},
		{"16", Width16, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blob := Generate(tc.w, ShadowOffsetLog2)
			want := wantWords(tc.bit)
			require.Len(t, blob, len(want)*4)
			for i, w := range want {
				got := binary.LittleEndian.Uint32(blob[i*4:])
				assert.Equalf(t, w, got, "instruction %d", i)
			}
		})
	}
}

func TestWidthBitOrdering(t *testing.T) {
	// bit must strictly increase with width, since it is log2(width) and
	// the tbnz/brk immediates assume that.
	prev := -1
	for _, w := range Widths {
		bit := int(w.bit())
		assert.Greater(t, bit, prev)
		prev = bit
	}
}

func TestWidthString(t *testing.T) {
	assert.Equal(t, "1", Width1.String())
	assert.Equal(t, "16", Width16.String())
}
