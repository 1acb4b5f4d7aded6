package job

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/log/vertex"
)

// DeterminantRequest asks a peer replica for every determinant it holds
// for one vertex, from startEpoch to the tip of its log.
type DeterminantRequest struct {
	VertexID   causal.VertexID
	StartEpoch uint64
}

func (r *DeterminantRequest) WriteTo(w io.Writer) (err error) {
	if err = causal.WriteID(r.VertexID, w); err != nil {
		return
	}
	return binary.Write(w, binary.BigEndian, r.StartEpoch)
}

func (r *DeterminantRequest) ReadFrom(rd io.Reader) (err error) {
	var id [causal.IDSize]byte
	if id, err = causal.ReadID(rd); err != nil {
		return
	}
	r.VertexID = causal.VertexID(id)
	return binary.Read(rd, binary.BigEndian, &r.StartEpoch)
}

func (r *DeterminantRequest) Marshal() (buf []byte, err error) {
	var bbuf bytes.Buffer
	if err = r.WriteTo(&bbuf); err != nil {
		return
	}
	buf = bbuf.Bytes()
	return
}

func (r *DeterminantRequest) Unmarshal(buf []byte) error {
	return r.ReadFrom(bytes.NewBuffer(buf))
}

// DeterminantResponse answers a DeterminantRequest. Found=false signals
// the vertex is outside this replica's sharing depth and the requester
// should ask another replica.
type DeterminantResponse struct {
	Found    bool
	VertexID causal.VertexID
	Delta    *vertex.VertexLogDelta
}

func (r *DeterminantResponse) WriteTo(w io.Writer) (err error) {
	found := byte(0)
	if r.Found {
		found = 1
	}
	if _, err = w.Write([]byte{found}); err != nil {
		return
	}
	if err = causal.WriteID(r.VertexID, w); err != nil {
		return
	}
	hasPayload := byte(0)
	if r.Found && r.Delta.HasUpdates() {
		hasPayload = 1
	}
	if _, err = w.Write([]byte{hasPayload}); err != nil {
		return
	}
	if hasPayload == 1 {
		err = r.Delta.WriteTo(w)
	}
	return
}

func (r *DeterminantResponse) ReadFrom(rd io.Reader) (err error) {
	var flags [1]byte
	if _, err = io.ReadFull(rd, flags[:]); err != nil {
		return
	}
	r.Found = flags[0] == 1
	var id [causal.IDSize]byte
	if id, err = causal.ReadID(rd); err != nil {
		return
	}
	r.VertexID = causal.VertexID(id)
	if _, err = io.ReadFull(rd, flags[:]); err != nil {
		return
	}
	if flags[0] == 1 {
		r.Delta = new(vertex.VertexLogDelta)
		err = r.Delta.ReadFrom(rd)
	}
	return
}

func (r *DeterminantResponse) Marshal() (buf []byte, err error) {
	var bbuf bytes.Buffer
	if err = r.WriteTo(&bbuf); err != nil {
		return
	}
	buf = bbuf.Bytes()
	return
}

func (r *DeterminantResponse) Unmarshal(buf []byte) error {
	return r.ReadFrom(bytes.NewBuffer(buf))
}
