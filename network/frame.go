// Package network provides framed TCP sessions and channels plus UDP
// endpoints that report their traffic as messages to an owning service.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLength is the size of the frame length prefix
	HeaderLength = 2

	// MaxBodyLength is the largest body a frame can carry
	MaxBodyLength = 4096
)

// ErrInvalidHeader is reported when a header announces a body larger
// than MaxBodyLength.
var ErrInvalidHeader = errors.New("invalid frame header")

// Frame is a length-prefixed unit of bytes. The header is a little-endian
// uint16 holding the body length.
type Frame struct {
	data       [HeaderLength + MaxBodyLength]byte
	bodyLength int
}

// NewFrame builds an encoded frame holding body. Bodies longer than
// MaxBodyLength are truncated.
func NewFrame(body []byte) *Frame {
	f := &Frame{}
	f.SetBodyLength(len(body))
	copy(f.Body(), body)
	f.EncodeHeader()
	return f
}

// BodyLength returns the current body length.
func (f *Frame) BodyLength() int {
	return f.bodyLength
}

// SetBodyLength sets the body length, clamped to MaxBodyLength.
func (f *Frame) SetBodyLength(n int) {
	if n < 0 {
		n = 0
	}
	if n > MaxBodyLength {
		n = MaxBodyLength
	}
	f.bodyLength = n
}

// Header returns the header bytes.
func (f *Frame) Header() []byte {
	return f.data[:HeaderLength]
}

// Body returns the body bytes for the current length.
func (f *Frame) Body() []byte {
	return f.data[HeaderLength : HeaderLength+f.bodyLength]
}

// Bytes returns header and body, ready for a single write.
func (f *Frame) Bytes() []byte {
	return f.data[:HeaderLength+f.bodyLength]
}

// Length returns the encoded size.
func (f *Frame) Length() int {
	return HeaderLength + f.bodyLength
}

// EncodeHeader writes the body length into the header.
func (f *Frame) EncodeHeader() {
	binary.LittleEndian.PutUint16(f.data[:HeaderLength], uint16(f.bodyLength))
}

// DecodeHeader reads the body length from the header. An oversized value
// resets the length to 0 and reports false; the caller must treat that as
// a protocol violation.
func (f *Frame) DecodeHeader() bool {
	n := int(binary.LittleEndian.Uint16(f.data[:HeaderLength]))
	if n > MaxBodyLength {
		f.bodyLength = 0
		return false
	}
	f.bodyLength = n
	return true
}

// ReadFrom fills f with the next frame from r.
func (f *Frame) ReadFrom(r io.Reader) error {
	if _, err := io.ReadFull(r, f.data[:HeaderLength]); err != nil {
		return err
	}
	if !f.DecodeHeader() {
		return ErrInvalidHeader
	}
	if f.bodyLength == 0 {
		return nil
	}
	if _, err := io.ReadFull(r, f.Body()); err != nil {
		return fmt.Errorf("failed to read frame body: %w", err)
	}
	return nil
}

// AppendFrame appends the encoding of body to dst. Bodies longer than
// MaxBodyLength are truncated.
func AppendFrame(dst, body []byte) []byte {
	if len(body) > MaxBodyLength {
		body = body[:MaxBodyLength]
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(body)))
	return append(dst, body...)
}
