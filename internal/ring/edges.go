package ring

// Tick is a monotonic hardware tick count. Arithmetic on ticks wraps mod 2^32.
type Tick uint32

// TickRate is the number of ticks per second.
const TickRate = 1_000_000

// Since returns the ticks elapsed from earlier to t, modulo 2^32.
func (t Tick) Since(earlier Tick) uint32 {
	return uint32(t - earlier)
}

// Before reports whether t is earlier than u, assuming they are less than
// 2^31 ticks apart.
func (t Tick) Before(u Tick) bool {
	return int32(t-u) < 0
}

// EdgeCaptureBufferSize is the number of edges held between polls.
const EdgeCaptureBufferSize = 64

// Edge is a captured pin transition. The direction is not stored: the line
// idles high, so even sequence numbers are falling edges and odd ones rising.
type Edge struct {
	Time   Tick
	Seq    uint32
	Rising bool
}

// EdgeCaptureBuffer queues edge timestamps from the interrupt domain to the
// polling domain.
type EdgeCaptureBuffer struct {
	r *Ring[Tick]
}

// NewEdgeCaptureBuffer creates a buffer holding EdgeCaptureBufferSize edges.
func NewEdgeCaptureBuffer() *EdgeCaptureBuffer {
	r, _ := New[Tick](EdgeCaptureBufferSize)
	return &EdgeCaptureBuffer{r: r}
}

// PushEdge records an edge. Interrupt domain only.
func (b *EdgeCaptureBuffer) PushEdge(t Tick) {
	b.r.Push(t)
}

// PopEdge removes the oldest unread edge. Poll domain only.
func (b *EdgeCaptureBuffer) PopEdge() (Edge, bool) {
	t, seq, ok := b.r.Pop()
	if !ok {
		return Edge{}, false
	}
	return Edge{Time: t, Seq: seq, Rising: seq&1 != 0}, true
}

// PeekEdge returns the oldest unread edge without consuming it.
func (b *EdgeCaptureBuffer) PeekEdge() (Edge, bool) {
	t, seq, ok := b.r.Peek()
	if !ok {
		return Edge{}, false
	}
	return Edge{Time: t, Seq: seq, Rising: seq&1 != 0}, true
}

// Flush discards all unread edges and reports the line level after the most
// recent edge ever captured (true = high).
func (b *EdgeCaptureBuffer) Flush() (lineHigh bool) {
	_, last := b.r.Discard()
	if b.r.Written() == 0 {
		return true
	}
	return last&1 != 0
}

// Empty reports whether every captured edge has been consumed.
func (b *EdgeCaptureBuffer) Empty() bool {
	return b.r.Empty()
}

// NextIsFalling reports whether the next edge pushed will be a falling edge.
// Used by edge sources to keep sequence parity aligned with the real line.
func (b *EdgeCaptureBuffer) NextIsFalling() bool {
	return b.r.Written()&1 == 0
}

// Lost returns the number of edges overwritten before they were read.
func (b *EdgeCaptureBuffer) Lost() uint32 {
	return b.r.Lost()
}
