package ring

// Source is the consumer view of a shared buffer ring. DequeueBurst fills dst
// with up to len(dst) buffers and returns immediately with the count, which
// is zero when nothing is available. Ownership of every returned buffer moves
// to the caller, who must Release it exactly once.
type Source interface {
	DequeueBurst(dst []*Buffer) int
}

// Sink is the producer view of a shared buffer ring.
type Sink interface {
	Enqueue(b *Buffer) bool
}

var (
	_ Source = (*Ring[*Buffer])(nil)
	_ Sink   = (*Ring[*Buffer])(nil)
)
