package core

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	Cycles    uint64 // dequeue cycles that returned at least one buffer
	IdlePolls uint64 // dequeue cycles that returned nothing
	Dequeued  uint64
	Released  uint64

	// Per-buffer outcomes; each dequeued buffer lands in exactly one.
	Accepted   uint64 // probe records accepted into a batch
	NotIP      uint64
	NotUDP     uint64
	WrongPort  uint64
	Malformed  uint64 // frame could not be parsed
	BadPayload uint64 // probe port, but payload failed to decode

	BatchesPublished uint64
	RecordsPublished uint64
	PublishErrors    uint64 // batches lost to transport failure or backpressure
	Panics           uint64 // cycles aborted by a recovered panic
	LastPacketID     uint64
}

// PublisherStats is a snapshot of a batch publisher's counters.
type PublisherStats struct {
	Enqueued     uint64
	Sent         uint64
	SendErrors   uint64
	Backpressure uint64 // batches rejected because the queue was full
	QueueDepth   int
}
