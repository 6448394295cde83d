package sensor

// Buffer keeps the last N samples. The slot count never changes; the oldest
// sample is overwritten.
type Buffer struct {
	slots  []float64
	cursor int // next write
	filled int
}

func NewBuffer(n int) *Buffer {
	if n < 2 {
		n = 2
	}
	b := &Buffer{slots: make([]float64, n)}
	b.Reset()
	return b
}

func (b *Buffer) Reset() {
	for i := range b.slots {
		b.slots[i] = NoResponse
	}
	b.cursor = 0
	b.filled = 0
}

// Push stores v and returns the sample written immediately before it. ok is
// false for the first sample after Reset.
func (b *Buffer) Push(v float64) (prev float64, ok bool) {
	n := len(b.slots)
	prev = b.slots[(b.cursor-1+n)%n]
	ok = b.filled > 0

	b.slots[b.cursor] = v
	b.cursor = (b.cursor + 1) % n
	if b.filled < n {
		b.filled++
	}
	return prev, ok
}

func (b *Buffer) Len() int { return len(b.slots) }

// Last returns the most recent sample.
func (b *Buffer) Last() float64 {
	n := len(b.slots)
	return b.slots[(b.cursor-1+n)%n]
}
