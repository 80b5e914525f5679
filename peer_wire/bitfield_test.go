package peer_wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitfield(t *testing.T) {
	bf := NewBitField(16)
	assert.Equal(t, 2, len(bf))
	bf = NewBitField(15)
	assert.Equal(t, 2, len(bf))
	bf = NewBitField(17)
	assert.Equal(t, 3, len(bf))
	bf.SetPiece(10)
	assert.Equal(t, byte(0x20), bf[1])
	assert.Equal(t, true, bf.HasPiece(10))
	bf.SetPiece(17)
	assert.Equal(t, byte(0x40), bf[2])
	bf.SetPiece(16)
	assert.Equal(t, byte(0xc0), bf[2])
	for i := uint32(0); i <= 17; i++ {
		switch i {
		case 10, 16, 17:
			assert.Equal(t, true, bf.HasPiece(i))
		default:
			assert.Equal(t, false, bf.HasPiece(i))
		}
	}
	assert.Equal(t, 3, bf.BitsSet())
}

func TestBitfieldValid(t *testing.T) {
	bf := NewBitField(17)
	bf.SetPiece(16)
	assert.True(t, bf.Valid(17))
	//a bit at position numPieces is one too many
	assert.False(t, bf.Valid(16))
	//trailing zero bytes are harmless
	long := make(BitField, 4)
	long.SetPiece(3)
	assert.True(t, long.Valid(17))
}

func TestBitfieldNextSet(t *testing.T) {
	bf := NewBitField(20)
	bf.SetPiece(3)
	bf.SetPiece(11)
	assert.Equal(t, 3, bf.NextSet(0))
	assert.Equal(t, 3, bf.NextSet(3))
	assert.Equal(t, 11, bf.NextSet(4))
	assert.Equal(t, -1, bf.NextSet(12))
}

func TestBitfieldHasPieceOutOfRange(t *testing.T) {
	bf := NewBitField(8)
	assert.False(t, bf.HasPiece(64))
}
