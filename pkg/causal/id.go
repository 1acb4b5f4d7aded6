package causal

import (
	"bytes"
	"io"

	"github.com/google/uuid"
)

// Identifiers in the dataflow graph are opaque 128-bit values. They are
// generated once by the job master and stable for the job lifetime.

type VertexID uuid.UUID

type ConsumerID uuid.UUID

type PartitionID uuid.UUID

const IDSize = 16

func NewVertexID() VertexID       { return VertexID(uuid.New()) }
func NewConsumerID() ConsumerID   { return ConsumerID(uuid.New()) }
func NewPartitionID() PartitionID { return PartitionID(uuid.New()) }

func (id VertexID) String() string    { return uuid.UUID(id).String() }
func (id ConsumerID) String() string  { return uuid.UUID(id).String() }
func (id PartitionID) String() string { return uuid.UUID(id).String() }

func (id PartitionID) Compare(o PartitionID) int {
	return bytes.Compare(id[:], o[:])
}

func WriteID(id [IDSize]byte, w io.Writer) (err error) {
	_, err = w.Write(id[:])
	return
}

func ReadID(r io.Reader) (id [IDSize]byte, err error) {
	_, err = io.ReadFull(r, id[:])
	return
}

// PartitionKey identifies one subpartition of an intermediate result
// partition. Fixed at vertex construction.
type PartitionKey struct {
	Partition    PartitionID
	Subpartition int
}
