package core

// Frame is a raw text payload queued for a client.
type Frame []byte

// SignalConnection abstracts the realtime messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking and fails on backpressure.
	TrySend(Frame) error
	// Ping requests a transport level liveness ping. It must not block.
	Ping() error
	Close()
}
