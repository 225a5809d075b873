package osh

import "bytes"

// Buffer is a growable output byte vector. The compiler appends OSH pairs
// to one as it scans the source, and goes back to patch jump-offset slots
// once the byte distance they describe is known.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty Buffer, optionally pre-sized to hint.
func NewBuffer(hint int) *Buffer {
	return &Buffer{data: make([]byte, 0, hint)}
}

// Bytes returns the buffer's contents. The slice aliases the buffer's
// backing array; callers that retain it across further writes must copy.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Write appends p to the buffer.
func (b *Buffer) Write(p []byte) {
	b.data = append(b.data, p...)
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) {
	b.data = append(b.data, c)
}

// Repeat appends n copies of c. Used to reserve zeroed jump-offset slots
// immediately after emitting a pair's header, to be patched later once the
// body's extent is known.
func (b *Buffer) Repeat(c byte, n int) {
	for i := 0; i < n; i++ {
		b.data = append(b.data, c)
	}
}

// WriteAt overwrites the n bytes starting at offset with p. The region
// [offset, offset+len(p)) must already exist in the buffer.
func (b *Buffer) WriteAt(offset int, p []byte) {
	copy(b.data[offset:offset+len(p)], p)
}

// WriteLength patches a previously reserved little-endian length/offset
// field of the given byte width at offset.
func (b *Buffer) WriteLength(offset int, value uint32, size int) {
	for i := 0; i < size; i++ {
		b.data[offset+i] = byte(value >> (8 * uint(i)))
	}
}

// MoveRight opens an n-byte gap at offset by shifting every byte from
// offset onward n places to the right, growing the buffer by n. The
// opened gap is zero-filled. Used by iterator localization to splice a
// namespace prefix/suffix around an identifier in place.
func (b *Buffer) MoveRight(offset int, n int) {
	if n <= 0 {
		return
	}
	b.data = append(b.data, make([]byte, n)...)
	copy(b.data[offset+n:], b.data[offset:len(b.data)-n])
	for i := 0; i < n; i++ {
		b.data[offset+i] = 0
	}
}

// Truncate discards every byte from n onward, shrinking the buffer back to
// a length it has already passed through. Used by the renderer to lift a
// component's body out of the output stream once its content_len is
// known, before re-rendering it through the component's own bytecode.
func (b *Buffer) Truncate(n int) {
	b.data = b.data[:n]
}

// WritePair appends a complete BDP832 Name/Value pair.
func (b *Buffer) WritePair(name, value []byte) error {
	out, err := WritePair(b.data, name, value)
	if err != nil {
		return err
	}
	b.data = out
	return nil
}

// WriteName appends the length-prefixed name segment of a pair being built
// incrementally (used when the value is assembled byte-by-byte afterward,
// e.g. packed loop/component values).
func (b *Buffer) WriteName(name []byte) error {
	out, err := WriteName(b.data, name)
	if err != nil {
		return err
	}
	b.data = out
	return nil
}

// WriteValue appends the length-prefixed value segment of a pair.
func (b *Buffer) WriteValue(value []byte) {
	b.data = WriteValue(b.data, value)
}

// ConstBuffer is a non-owning view over a byte slice, used by the compiler
// scanner and the localization rewriter to search without copying.
type ConstBuffer struct {
	Data []byte
	Size int
}

// NewConstBuffer wraps data in a ConstBuffer view.
func NewConstBuffer(data []byte) ConstBuffer {
	return ConstBuffer{Data: data, Size: len(data)}
}

// End returns the exclusive upper bound of the view, i.e. Size.
func (c ConstBuffer) End() int { return c.Size }

// MatchAt reports whether pattern occurs at offset exactly.
func (c ConstBuffer) MatchAt(offset int, pattern []byte) bool {
	if offset < 0 || offset+len(pattern) > c.Size {
		return false
	}
	return bytes.Equal(c.Data[offset:offset+len(pattern)], pattern)
}

// Match reports whether pattern occurs at the very start of the view.
func (c ConstBuffer) Match(pattern []byte) bool {
	return c.MatchAt(0, pattern)
}

// FindIndex returns the index of the first occurrence of pattern at or
// after offset, or -1 if none exists.
func (c ConstBuffer) FindIndex(offset int, pattern []byte) int {
	if offset < 0 || offset > c.Size || len(pattern) == 0 {
		return -1
	}
	idx := bytes.Index(c.Data[offset:], pattern)
	if idx < 0 {
		return -1
	}
	return offset + idx
}

// Find returns the index of the first occurrence of pattern anywhere in the
// view, or -1 if none exists.
func (c ConstBuffer) Find(pattern []byte) int {
	return c.FindIndex(0, pattern)
}
