package common

import (
	"encoding/binary"
	"io"
)

func WriteUvarint(v uint64, w io.Writer) (n int64, err error) {
	var scratch [binary.MaxVarintLen64]byte
	size := binary.PutUvarint(scratch[:], v)
	wn, err := w.Write(scratch[:size])
	return int64(wn), err
}

func ReadUvarint(r io.Reader) (v uint64, err error) {
	if br, ok := r.(io.ByteReader); ok {
		return binary.ReadUvarint(br)
	}
	return binary.ReadUvarint(&byteReader{r: r})
}

type byteReader struct {
	r io.Reader
}

func (br *byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func ReadFull(r io.Reader, size int) (buf []byte, err error) {
	buf = make([]byte, size)
	_, err = io.ReadFull(r, buf)
	return
}
