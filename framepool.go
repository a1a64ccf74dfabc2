package pyharbor

// framePool recycles the byte slices the frame transport reads into and
// writes from, keeping steady-state traffic allocation-free. The channel
// gives lock-free Get/Put; when the pool runs dry a fresh slice is handed
// out, and surplus returns are simply dropped for the GC.
type framePool struct {
	free chan []byte
	size int
}

// newFramePool builds a pool pre-filled with count buffers of size bytes.
func newFramePool(size, count int) *framePool {
	p := &framePool{
		free: make(chan []byte, count),
		size: size,
	}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, size)
	}
	return p
}

// get returns a buffer with capacity p.size, allocating when the pool is empty.
func (p *framePool) get() []byte {
	select {
	case buf := <-p.free:
		return buf
	default:
		return make([]byte, p.size)
	}
}

// put returns a buffer to the pool. Foreign-sized buffers are discarded.
func (p *framePool) put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	select {
	case p.free <- buf[:p.size]:
	default:
	}
}
