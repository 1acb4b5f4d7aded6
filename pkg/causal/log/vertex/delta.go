package vertex

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/log/thread"
	"github.com/ThomasPf/Clonos/pkg/common"
)

var ErrEmptyDelta = errors.New("clonos: refusing to serialize empty delta")

// VertexLogDelta aggregates the per-thread deltas of one vertex: the
// optional main-thread delta plus the subpartition deltas relevant to the
// recipient, keyed by partition and subpartition index.
type VertexLogDelta struct {
	VertexID   causal.VertexID
	MainThread *thread.ThreadLogDelta
	Partitions map[causal.PartitionID]map[int]*thread.ThreadLogDelta
}

func NewVertexLogDelta(vertexID causal.VertexID) *VertexLogDelta {
	return &VertexLogDelta{
		VertexID:   vertexID,
		Partitions: make(map[causal.PartitionID]map[int]*thread.ThreadLogDelta),
	}
}

func (d *VertexLogDelta) AddSubpartitionDelta(partition causal.PartitionID, sub int, t *thread.ThreadLogDelta) {
	if d.Partitions == nil {
		d.Partitions = make(map[causal.PartitionID]map[int]*thread.ThreadLogDelta)
	}
	subs, ok := d.Partitions[partition]
	if !ok {
		subs = make(map[int]*thread.ThreadLogDelta)
		d.Partitions[partition] = subs
	}
	subs[sub] = t
}

// HasUpdates reports whether the delta carries any bytes. Callers must
// test it before transmitting; empty deltas never go on the wire.
func (d *VertexLogDelta) HasUpdates() bool {
	if d == nil {
		return false
	}
	if d.MainThread.Size() > 0 {
		return true
	}
	for _, subs := range d.Partitions {
		for _, t := range subs {
			if t.Size() > 0 {
				return true
			}
		}
	}
	return false
}

func (d *VertexLogDelta) WriteTo(w io.Writer) (err error) {
	if !d.HasUpdates() {
		return ErrEmptyDelta
	}
	if err = causal.WriteID(d.VertexID, w); err != nil {
		return
	}
	hasMain := byte(0)
	if d.MainThread.Size() > 0 {
		hasMain = 1
	}
	if _, err = w.Write([]byte{hasMain}); err != nil {
		return
	}
	if hasMain == 1 {
		if err = d.MainThread.WriteTo(w); err != nil {
			return
		}
	}
	type group struct {
		id   causal.PartitionID
		subs []int
	}
	groups := make([]group, 0, len(d.Partitions))
	for id, subs := range d.Partitions {
		g := group{id: id}
		for sub, t := range subs {
			if t.Size() > 0 {
				g.subs = append(g.subs, sub)
			}
		}
		if len(g.subs) == 0 {
			continue
		}
		sort.Ints(g.subs)
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].id.Compare(groups[j].id) < 0
	})
	if _, err = common.WriteUvarint(uint64(len(groups)), w); err != nil {
		return
	}
	for _, g := range groups {
		if err = causal.WriteID(g.id, w); err != nil {
			return
		}
		if _, err = common.WriteUvarint(uint64(len(g.subs)), w); err != nil {
			return
		}
		for _, sub := range g.subs {
			if _, err = common.WriteUvarint(uint64(sub), w); err != nil {
				return
			}
			if err = d.Partitions[g.id][sub].WriteTo(w); err != nil {
				return
			}
		}
	}
	return
}

func (d *VertexLogDelta) ReadFrom(r io.Reader) (err error) {
	var id [causal.IDSize]byte
	if id, err = causal.ReadID(r); err != nil {
		return
	}
	d.VertexID = causal.VertexID(id)
	var flag [1]byte
	if _, err = io.ReadFull(r, flag[:]); err != nil {
		return
	}
	if flag[0] == 1 {
		d.MainThread = new(thread.ThreadLogDelta)
		if err = d.MainThread.ReadFrom(r); err != nil {
			return
		}
	}
	numGroups, err := common.ReadUvarint(r)
	if err != nil {
		return
	}
	d.Partitions = make(map[causal.PartitionID]map[int]*thread.ThreadLogDelta, numGroups)
	for i := uint64(0); i < numGroups; i++ {
		var pid [causal.IDSize]byte
		if pid, err = causal.ReadID(r); err != nil {
			return
		}
		numSubs, err2 := common.ReadUvarint(r)
		if err2 != nil {
			return err2
		}
		subs := make(map[int]*thread.ThreadLogDelta, numSubs)
		for j := uint64(0); j < numSubs; j++ {
			subIdx, err3 := common.ReadUvarint(r)
			if err3 != nil {
				return err3
			}
			t := new(thread.ThreadLogDelta)
			if err = t.ReadFrom(r); err != nil {
				return
			}
			subs[int(subIdx)] = t
		}
		d.Partitions[causal.PartitionID(pid)] = subs
	}
	return
}

func (d *VertexLogDelta) Marshal() (buf []byte, err error) {
	var bbuf bytes.Buffer
	if err = d.WriteTo(&bbuf); err != nil {
		return
	}
	buf = bbuf.Bytes()
	return
}

func (d *VertexLogDelta) Unmarshal(buf []byte) error {
	return d.ReadFrom(bytes.NewBuffer(buf))
}

// WriteDeltaList frames a list of deltas by length-prefixing it. Deltas
// without updates are skipped.
func WriteDeltaList(deltas []*VertexLogDelta, w io.Writer) (err error) {
	live := make([]*VertexLogDelta, 0, len(deltas))
	for _, d := range deltas {
		if d.HasUpdates() {
			live = append(live, d)
		}
	}
	if _, err = common.WriteUvarint(uint64(len(live)), w); err != nil {
		return
	}
	for _, d := range live {
		if err = d.WriteTo(w); err != nil {
			return
		}
	}
	return
}

func ReadDeltaList(r io.Reader) (deltas []*VertexLogDelta, err error) {
	count, err := common.ReadUvarint(r)
	if err != nil {
		return
	}
	deltas = make([]*VertexLogDelta, 0, count)
	for i := uint64(0); i < count; i++ {
		d := new(VertexLogDelta)
		if err = d.ReadFrom(r); err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	return
}
