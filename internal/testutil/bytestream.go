package testutil

import "strings"

// ByteStream derives test inputs from fuzz bytes.
//
// Reads past the end return zero values, so the same input always decodes to
// the same sequence of names and choices.
type ByteStream struct {
	data []byte
	pos  int
}

// NewByteStream returns a stream over data.
func NewByteStream(data []byte) *ByteStream {
	return &ByteStream{data: data}
}

// HasMore reports whether unread bytes remain.
func (s *ByteStream) HasMore() bool {
	return s.pos < len(s.data)
}

// Byte returns the next byte, or 0 once exhausted.
func (s *ByteStream) Byte() byte {
	if s.pos >= len(s.data) {
		return 0
	}

	b := s.data[s.pos]
	s.pos++

	return b
}

// Intn returns a value in [0, n). It returns 0 when n <= 0.
func (s *ByteStream) Intn(n int) int {
	if n <= 0 {
		return 0
	}

	return int(s.Byte()) % n
}

// Bool returns the low bit of the next byte.
func (s *ByteStream) Bool() bool {
	return s.Byte()&1 == 1
}

const identChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_$"

// ClassName returns an internal class name with up to three package
// segments, each identifier between 1 and 8 characters long.
//
// Names drawn from a small input space collide often, which is what
// filter and cache fuzzing need.
func (s *ByteStream) ClassName() string {
	var b strings.Builder

	for range s.Intn(4) {
		s.ident(&b)
		b.WriteByte('/')
	}

	s.ident(&b)

	return b.String()
}

func (s *ByteStream) ident(b *strings.Builder) {
	for range 1 + s.Intn(8) {
		b.WriteByte(identChars[s.Intn(len(identChars))])
	}
}
