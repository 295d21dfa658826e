package frames

// Buffer accumulates frames in receipt order. It is not safe for concurrent
// use; the owning session serializes access.
type Buffer struct {
	frames []Frame
}

// NewBuffer returns a buffer with room for capacity frames before growing.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{frames: make([]Frame, 0, capacity)}
}

func (b *Buffer) Append(f Frame) {
	b.frames = append(b.frames, f)
}

// Drain returns every buffered frame in order and empties the buffer. The
// returned slice is owned by the caller.
func (b *Buffer) Drain() []Frame {
	out := b.frames
	b.frames = make([]Frame, 0, cap(out))
	return out
}

// PeekLast returns the most recent frame without removing it.
func (b *Buffer) PeekLast() (Frame, bool) {
	if len(b.frames) == 0 {
		return Frame{}, false
	}
	return b.frames[len(b.frames)-1], true
}

func (b *Buffer) Clear() {
	clear(b.frames)
	b.frames = b.frames[:0]
}

func (b *Buffer) Len() int {
	return len(b.frames)
}
