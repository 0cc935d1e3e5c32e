package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool

	// snapshot marks a periodic status report. Only the newest of a run of
	// snapshots on one topic is worth replaying.
	snapshot bool
}

// ringBuffer holds messages published while the broker is unreachable.
// When full the oldest message is dropped. Not safe for concurrent use.
type ringBuffer struct {
	buf       []bufferedMsg
	head      int // next write position
	count     int
	dropped   int // messages lost to overflow since the last drain
	coalesced int // snapshots replaced by a newer one since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) newest() *bufferedMsg {
	if r.count == 0 {
		return nil
	}
	return &r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if last := r.newest(); msg.snapshot && last != nil && last.snapshot && last.topic == msg.topic {
		*last = msg
		r.coalesced++
		return
	}

	if r.count == len(r.buf) {
		if r.dropped == 0 {
			log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", len(r.buf))
		}
		r.dropped++
		r.buf[r.head] = msg
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % len(r.buf)
	r.count++
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}

	r.count = 0
	r.head = 0
	r.dropped = 0
	r.coalesced = 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
