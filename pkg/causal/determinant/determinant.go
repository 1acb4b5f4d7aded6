package determinant

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// A determinant records a single non-deterministic event of the producer
// thread with enough detail to replay it on a standby replica.

var ErrEncoding = errors.New("clonos: determinant encoding error")

const (
	TagRNG uint8 = iota + 1
	TagTimer
	TagBuffer
	TagSourceCheckpoint
)

type Determinant interface {
	GetTag() uint8
	WriteTo(w io.Writer) error
	ReadFrom(r io.Reader) error
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type baseDeterminant struct{}

// RNGDeterminant records one draw of the task's random service.
type RNGDeterminant struct {
	baseDeterminant
	Number uint32
}

// TimerDeterminant records a processing-time timer firing: the timestamp
// it fired at and the id of the registered callback.
type TimerDeterminant struct {
	baseDeterminant
	Timestamp  uint64
	CallbackID uint32
}

// BufferDeterminant records a buffer-granularity event by sequence number
// and kind.
type BufferDeterminant struct {
	baseDeterminant
	Seq  uint64
	Kind uint8
}

// SourceCheckpointDeterminant records how many records a source emitted
// within the closing epoch.
type SourceCheckpointDeterminant struct {
	baseDeterminant
	Count uint64
}

func NewRNGDeterminant(number uint32) *RNGDeterminant {
	return &RNGDeterminant{Number: number}
}

// Replace reuses the instance for the next draw, avoiding an allocation
// per record on the hot append path.
func (d *RNGDeterminant) Replace(number uint32) *RNGDeterminant {
	d.Number = number
	return d
}

func (d *RNGDeterminant) GetTag() uint8 { return TagRNG }

func (d *RNGDeterminant) WriteTo(w io.Writer) (err error) {
	if err = binary.Write(w, binary.BigEndian, d.GetTag()); err != nil {
		return
	}
	return binary.Write(w, binary.BigEndian, d.Number)
}

func (d *RNGDeterminant) ReadFrom(r io.Reader) error {
	return binary.Read(r, binary.BigEndian, &d.Number)
}

func (d *RNGDeterminant) Marshal() ([]byte, error) { return marshal(d) }
func (d *RNGDeterminant) Unmarshal(buf []byte) error { return unmarshal(d, buf) }

func (d *TimerDeterminant) GetTag() uint8 { return TagTimer }

func (d *TimerDeterminant) WriteTo(w io.Writer) (err error) {
	if err = binary.Write(w, binary.BigEndian, d.GetTag()); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, d.Timestamp); err != nil {
		return
	}
	return binary.Write(w, binary.BigEndian, d.CallbackID)
}

func (d *TimerDeterminant) ReadFrom(r io.Reader) (err error) {
	if err = binary.Read(r, binary.BigEndian, &d.Timestamp); err != nil {
		return
	}
	return binary.Read(r, binary.BigEndian, &d.CallbackID)
}

func (d *TimerDeterminant) Marshal() ([]byte, error) { return marshal(d) }
func (d *TimerDeterminant) Unmarshal(buf []byte) error { return unmarshal(d, buf) }

func (d *BufferDeterminant) GetTag() uint8 { return TagBuffer }

func (d *BufferDeterminant) WriteTo(w io.Writer) (err error) {
	if err = binary.Write(w, binary.BigEndian, d.GetTag()); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, d.Seq); err != nil {
		return
	}
	return binary.Write(w, binary.BigEndian, d.Kind)
}

func (d *BufferDeterminant) ReadFrom(r io.Reader) (err error) {
	if err = binary.Read(r, binary.BigEndian, &d.Seq); err != nil {
		return
	}
	return binary.Read(r, binary.BigEndian, &d.Kind)
}

func (d *BufferDeterminant) Marshal() ([]byte, error) { return marshal(d) }
func (d *BufferDeterminant) Unmarshal(buf []byte) error { return unmarshal(d, buf) }

func (d *SourceCheckpointDeterminant) GetTag() uint8 { return TagSourceCheckpoint }

func (d *SourceCheckpointDeterminant) WriteTo(w io.Writer) (err error) {
	if err = binary.Write(w, binary.BigEndian, d.GetTag()); err != nil {
		return
	}
	return binary.Write(w, binary.BigEndian, d.Count)
}

func (d *SourceCheckpointDeterminant) ReadFrom(r io.Reader) error {
	return binary.Read(r, binary.BigEndian, &d.Count)
}

func (d *SourceCheckpointDeterminant) Marshal() ([]byte, error) { return marshal(d) }
func (d *SourceCheckpointDeterminant) Unmarshal(buf []byte) error { return unmarshal(d, buf) }

func marshal(d Determinant) (buf []byte, err error) {
	var bbuf bytes.Buffer
	if err = d.WriteTo(&bbuf); err != nil {
		return
	}
	buf = bbuf.Bytes()
	return
}

func unmarshal(d Determinant, buf []byte) error {
	bbuf := bytes.NewBuffer(buf)
	var tag uint8
	if err := binary.Read(bbuf, binary.BigEndian, &tag); err != nil {
		return err
	}
	if tag != d.GetTag() {
		return fmt.Errorf("%w: tag %d", ErrEncoding, tag)
	}
	return d.ReadFrom(bbuf)
}

// BuildDeterminantFrom reads one tagged determinant off r. An unknown tag
// is fatal to the enclosing task: the log cannot be resynchronized
// mid-epoch.
func BuildDeterminantFrom(r io.Reader) (d Determinant, err error) {
	var tag uint8
	if err = binary.Read(r, binary.BigEndian, &tag); err != nil {
		return
	}
	switch tag {
	case TagRNG:
		d = new(RNGDeterminant)
	case TagTimer:
		d = new(TimerDeterminant)
	case TagBuffer:
		d = new(BufferDeterminant)
	case TagSourceCheckpoint:
		d = new(SourceCheckpointDeterminant)
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrEncoding, tag)
	}
	err = d.ReadFrom(r)
	return
}
