package session

// History is a circular buffer holding the most recent output of a
// session for replay to late subscribers. It is not safe for concurrent
// use; the owning broadcaster serializes access.
type History struct {
	data  []byte
	size  int
	pos   int
	total uint64
}

// NewHistory creates a history buffer holding up to size bytes
func NewHistory(size int) *History {
	return &History{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, overwriting the oldest bytes when full
func (h *History) Write(p []byte) {
	if len(p) >= h.size {
		copy(h.data, p[len(p)-h.size:])
		h.pos = 0
		h.total += uint64(len(p))
		return
	}

	n := copy(h.data[h.pos:], p)
	if n < len(p) {
		copy(h.data, p[n:])
	}
	h.pos = (h.pos + len(p)) % h.size
	h.total += uint64(len(p))
}

// Len returns the number of bytes retained
func (h *History) Len() int {
	if h.total < uint64(h.size) {
		return int(h.total)
	}
	return h.size
}

// Bytes returns a copy of the retained bytes, oldest first
func (h *History) Bytes() []byte {
	stored := h.Len()
	out := make([]byte, stored)
	if stored < h.size {
		copy(out, h.data[:stored])
		return out
	}

	// Buffer wrapped around
	n := copy(out, h.data[h.pos:])
	copy(out[n:], h.data[:h.pos])
	return out
}

// Total returns the number of bytes ever written
func (h *History) Total() uint64 {
	return h.total
}
