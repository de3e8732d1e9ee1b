package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// PacketReader reads little-endian fields from a byte slice. Every read
// checks the remaining length first and never panics.
type PacketReader struct {
	data []byte
	off  int
}

// NewPacketReader creates a reader positioned at the start of data.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

// Offset returns the number of bytes consumed so far.
func (r *PacketReader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int {
	return len(r.data) - r.off
}

// take consumes n bytes for field or reports a TruncatedInputError.
func (r *PacketReader) take(field string, n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, &TruncatedInputError{Field: field, Need: n, Have: r.Remaining()}
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (r *PacketReader) ReadUint8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a single byte; any non-zero value is true.
func (r *PacketReader) ReadBool(field string) (bool, error) {
	v, err := r.ReadUint8(field)
	return v != 0, err
}

// ReadUint16 reads a little-endian uint16.
func (r *PacketReader) ReadUint16(field string) (uint16, error) {
	b, err := r.take(field, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt32 reads a little-endian two's-complement int32.
func (r *PacketReader) ReadInt32(field string) (int32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadUint64 reads a little-endian uint64.
func (r *PacketReader) ReadUint64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadString reads a u8 length-prefixed UTF-8 string.
// Format: [length:1][utf-8 bytes...]
func (r *PacketReader) ReadString(field string) (string, error) {
	length, err := r.ReadUint8(field + " length")
	if err != nil {
		return "", err
	}
	b, err := r.take(field, int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &MalformedTextError{Field: field}
	}
	return string(b), nil
}

// ReadBytes reads n raw bytes. The returned slice aliases the input.
func (r *PacketReader) ReadBytes(field string, n int) ([]byte, error) {
	return r.take(field, n)
}

// ReadPacket reads a single length-prefixed packet from a reader.
// Packet format: [2-byte LE length][payload bytes...]
// Returns the raw packet bytes (excluding length prefix).
func ReadPacket(r io.Reader) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("failed to read packet length: %w", err)
	}

	length := binary.LittleEndian.Uint16(prefix[:])
	if length == 0 {
		return nil, fmt.Errorf("received zero-length packet")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	return payload, nil
}

// WritePacket writes a length-prefixed packet to a writer.
func WritePacket(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to write zero-length packet")
	}
	if len(data) > MaxPacketSize {
		return fmt.Errorf("packet too large: %d bytes (max %d)", len(data), MaxPacketSize)
	}

	frame := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint16(frame, uint16(len(data)))
	copy(frame[LengthPrefixSize:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}
