package determinant

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRNGEncoding(t *testing.T) {
	encoder := NewEncoder()
	buf, err := encoder.Encode(NewRNGDeterminant(7))
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00, 0x07}, buf)

	d, err := encoder.Decode(bytes.NewReader(buf))
	assert.Nil(t, err)
	assert.Equal(t, uint32(7), d.(*RNGDeterminant).Number)
}

func TestDeterminantRoundTrips(t *testing.T) {
	encoder := NewEncoder()
	determinants := []Determinant{
		NewRNGDeterminant(0xDEADBEEF),
		&TimerDeterminant{Timestamp: 1699999999, CallbackID: 42},
		&BufferDeterminant{Seq: 77, Kind: 3},
		&SourceCheckpointDeterminant{Count: 123456},
	}
	var buf bytes.Buffer
	for _, d := range determinants {
		assert.Nil(t, encoder.EncodeTo(d, &buf))
	}
	decoded, err := encoder.DecodeAll(buf.Bytes())
	assert.Nil(t, err)
	assert.Equal(t, determinants, decoded)
}

func TestUnknownTagIsFatal(t *testing.T) {
	encoder := NewEncoder()
	_, err := encoder.DecodeAll([]byte{0x7F, 0x00})
	assert.True(t, errors.Is(err, ErrEncoding))
}

func TestReplaceReusesInstance(t *testing.T) {
	d := NewRNGDeterminant(1)
	assert.Same(t, d, d.Replace(2))
	assert.Equal(t, uint32(2), d.Number)
}

func TestUnmarshalRejectsWrongTag(t *testing.T) {
	buf, err := (&TimerDeterminant{Timestamp: 1, CallbackID: 2}).Marshal()
	assert.Nil(t, err)
	assert.True(t, errors.Is(new(RNGDeterminant).Unmarshal(buf), ErrEncoding))
}
