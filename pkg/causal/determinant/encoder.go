package determinant

import (
	"bytes"
	"io"
)

// Encoder turns determinants into bytes and back. The encoding must be
// round-trip stable across all replicas of a job, so there is exactly one
// implementation and no versioning.
type Encoder interface {
	Encode(d Determinant) ([]byte, error)
	EncodeTo(d Determinant, w io.Writer) error
	Decode(r io.Reader) (Determinant, error)
	DecodeAll(buf []byte) ([]Determinant, error)
}

type simpleEncoder struct{}

func NewEncoder() Encoder { return &simpleEncoder{} }

func (e *simpleEncoder) Encode(d Determinant) ([]byte, error) {
	return d.Marshal()
}

func (e *simpleEncoder) EncodeTo(d Determinant, w io.Writer) error {
	return d.WriteTo(w)
}

func (e *simpleEncoder) Decode(r io.Reader) (Determinant, error) {
	return BuildDeterminantFrom(r)
}

func (e *simpleEncoder) DecodeAll(buf []byte) (ds []Determinant, err error) {
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		var d Determinant
		if d, err = BuildDeterminantFrom(r); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return
}
