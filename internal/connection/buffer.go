package connection

// pendingQueue is a growable FIFO ring of encoded control frames waiting for
// the connection to come back. Not safe for concurrent use; the Manager
// serializes access under its own lock.
type pendingQueue struct {
	buf   [][]byte
	head  int // read position
	tail  int // write position
	count int

	// Stats
	totalQueued  int64
	totalFlushed int64
}

func newPendingQueue(capacity int) *pendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &pendingQueue{buf: make([][]byte, capacity)}
}

// Append adds a frame at the tail, doubling capacity when full.
func (q *pendingQueue) Append(frame []byte) {
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[q.tail] = frame
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.totalQueued++
}

// Peek returns the head frame without removing it.
func (q *pendingQueue) Peek() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	return q.buf[q.head], true
}

// Pop removes and returns the head frame.
func (q *pendingQueue) Pop() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	frame := q.buf[q.head]
	q.buf[q.head] = nil // clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.totalFlushed++
	return frame, true
}

// Len returns the number of queued frames.
func (q *pendingQueue) Len() int {
	return q.count
}

// grow doubles capacity, compacting the ring to the front.
func (q *pendingQueue) grow() {
	newBuf := make([][]byte, len(q.buf)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}
	q.buf = newBuf
	q.head = 0
	q.tail = q.count
}
