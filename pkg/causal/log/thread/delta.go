package thread

import (
	"encoding/binary"
	"io"

	"github.com/ThomasPf/Clonos/pkg/common"
)

// ThreadLogDelta carries the bytes of one thread causal log that a
// consumer has not received yet, within a single epoch. Instances are
// immutable once constructed.
type ThreadLogDelta struct {
	EpochID         uint64
	OffsetFromEpoch int64
	Data            []byte
}

func (d *ThreadLogDelta) Size() int {
	if d == nil {
		return 0
	}
	return len(d.Data)
}

func (d *ThreadLogDelta) WriteTo(w io.Writer) (err error) {
	if err = binary.Write(w, binary.BigEndian, d.EpochID); err != nil {
		return
	}
	if _, err = common.WriteUvarint(uint64(d.OffsetFromEpoch), w); err != nil {
		return
	}
	if _, err = common.WriteUvarint(uint64(len(d.Data)), w); err != nil {
		return
	}
	_, err = w.Write(d.Data)
	return
}

func (d *ThreadLogDelta) ReadFrom(r io.Reader) (err error) {
	if err = binary.Read(r, binary.BigEndian, &d.EpochID); err != nil {
		return
	}
	offset, err := common.ReadUvarint(r)
	if err != nil {
		return
	}
	d.OffsetFromEpoch = int64(offset)
	length, err := common.ReadUvarint(r)
	if err != nil {
		return
	}
	if length == 0 {
		d.Data = nil
		return
	}
	d.Data, err = common.ReadFull(r, int(length))
	return
}

func emptyDelta(epoch uint64) *ThreadLogDelta {
	return &ThreadLogDelta{EpochID: epoch}
}
