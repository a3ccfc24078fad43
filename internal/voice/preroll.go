package voice

// preRoll is a fixed-capacity ring of recent non-speech frames. When full,
// pushing overwrites the oldest frame. It is owned by a single detector and
// is not safe for concurrent use.
type preRoll struct {
	frames   [][]float32
	start    int
	size     int
	capacity int
}

func newPreRoll(capacity int) *preRoll {
	if capacity < 1 {
		capacity = 1
	}
	return &preRoll{
		frames:   make([][]float32, capacity),
		capacity: capacity,
	}
}

// push stores frame, evicting the oldest entry when at capacity.
func (r *preRoll) push(frame []float32) {
	if r.size < r.capacity {
		r.frames[(r.start+r.size)%r.capacity] = frame
		r.size++
		return
	}
	r.frames[r.start] = frame
	r.start = (r.start + 1) % r.capacity
}

// appendTo appends the buffered frames, oldest first, to dst.
func (r *preRoll) appendTo(dst []float32) []float32 {
	for i := 0; i < r.size; i++ {
		dst = append(dst, r.frames[(r.start+i)%r.capacity]...)
	}
	return dst
}

// samples is the total number of samples across buffered frames.
func (r *preRoll) samples() int {
	n := 0
	for i := 0; i < r.size; i++ {
		n += len(r.frames[(r.start+i)%r.capacity])
	}
	return n
}

func (r *preRoll) len() int { return r.size }

func (r *preRoll) clear() {
	for i := range r.frames {
		r.frames[i] = nil
	}
	r.start = 0
	r.size = 0
}
