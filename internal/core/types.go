// Package core defines the probe data model with zero external dependencies.
package core

// ProbeFields is a decoded probe payload that has not been accepted yet and
// therefore carries no packet id.
type ProbeFields struct {
	FlowID    string
	T0        uint32 // host order
	T1        uint32 // host order
	Direction bool
}

// ProbeRecord is an accepted probe measurement.
type ProbeRecord struct {
	FlowID    string
	T0        uint32
	T1        uint32
	PacketID  uint64 // 1-based, strictly increasing per worker
	Direction bool
}

// Batch holds the records accepted during one dequeue cycle, in acceptance order.
type Batch struct {
	Records []ProbeRecord
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Records)
}

// Empty reports whether the batch has no records.
func (b *Batch) Empty() bool {
	return len(b.Records) == 0
}

// Reset truncates the batch, keeping the backing array.
func (b *Batch) Reset() {
	b.Records = b.Records[:0]
}
