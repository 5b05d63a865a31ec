package pipeline

import "firestige.xyz/rttprobe/internal/core"

// Accumulator collects the records of one dequeue cycle and numbers them.
// The packet id counter lives as long as the accumulator and is never reset
// between cycles; the first record gets id 1. Single writer, no locking.
type Accumulator struct {
	lastID uint64
	batch  core.Batch
}

// NewAccumulator creates an accumulator whose batch holds capacity records
// without reallocating.
func NewAccumulator(capacity int) *Accumulator {
	return &Accumulator{batch: core.Batch{Records: make([]core.ProbeRecord, 0, capacity)}}
}

// BeginCycle empties the batch.
func (a *Accumulator) BeginCycle() *core.Batch {
	a.batch.Reset()
	return &a.batch
}

// Accept assigns the next packet id to f and appends it to the batch.
func (a *Accumulator) Accept(f core.ProbeFields) core.ProbeRecord {
	a.lastID++
	rec := core.ProbeRecord{
		FlowID:    f.FlowID,
		T0:        f.T0,
		T1:        f.T1,
		PacketID:  a.lastID,
		Direction: f.Direction,
	}
	a.batch.Records = append(a.batch.Records, rec)
	return rec
}

// FinishCycle returns the batch of the current cycle. It stays valid until
// the next BeginCycle.
func (a *Accumulator) FinishCycle() *core.Batch {
	return &a.batch
}

// Discard drops the records of the current cycle. Their ids stay consumed.
func (a *Accumulator) Discard() {
	a.batch.Reset()
}

// LastPacketID returns the most recently assigned id, 0 before the first.
func (a *Accumulator) LastPacketID() uint64 {
	return a.lastID
}
