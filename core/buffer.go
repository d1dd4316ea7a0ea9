package core

// Buffer is a byte payload whose ownership moves with the message that
// carries it. The receiver calls Take to claim the bytes; after that the
// buffer is empty and the bytes belong to the caller alone.
type Buffer struct {
	data []byte
}

// NewBuffer adopts b. The caller must not touch b afterwards.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: b}
}

// CopyBuffer returns a buffer holding a private copy of b.
func CopyBuffer(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	return &Buffer{data: data}
}

// Bytes returns the contents without transferring ownership.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the payload size.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Take transfers the bytes to the caller and empties the buffer.
func (b *Buffer) Take() []byte {
	if b == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return data
}

// String returns the payload as a string.
func (b *Buffer) String() string {
	return string(b.Bytes())
}
