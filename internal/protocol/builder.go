package protocol

import "encoding/binary"

// PacketBuilder appends little-endian fields to a single buffer. The first
// field that cannot be encoded is remembered and reported by Build; later
// writes are ignored.
type PacketBuilder struct {
	buf []byte
	err error
}

// NewPacketBuilder creates a PacketBuilder with room for size bytes.
func NewPacketBuilder(size int) *PacketBuilder {
	return &PacketBuilder{buf: make([]byte, 0, size)}
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	if b.err == nil {
		b.buf = append(b.buf, v)
	}
	return b
}

// WriteBool writes 1 for true and 0 for false.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	if b.err == nil {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	}
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	if b.err == nil {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(v))
	}
	return b
}

// WriteUint64 writes a uint64 in little-endian order.
func (b *PacketBuilder) WriteUint64(v uint64) *PacketBuilder {
	if b.err == nil {
		b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
	}
	return b
}

// WriteString writes a length-prefixed string.
// Format: [length:1][utf-8 bytes...]
func (b *PacketBuilder) WriteString(field, s string) *PacketBuilder {
	if b.err != nil {
		return b
	}
	if len(s) > MaxStringLength {
		b.err = &EncodingError{Field: field, Length: len(s)}
		return b
	}
	b.buf = append(b.buf, byte(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	if b.err == nil {
		b.buf = append(b.buf, data...)
	}
	return b
}

// Build returns the constructed packet bytes, or the first write error.
func (b *PacketBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}
