package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-test/deep"
)

func TestPacketBuilderStickyError(t *testing.T) {
	b := NewPacketBuilder(8)
	b.WriteUint8(1).
		WriteString("first", strings.Repeat("x", 300)).
		WriteString("second", strings.Repeat("y", 400)).
		WriteInt32(5)

	_, err := b.Build()
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("Build() error = %v, want *EncodingError", err)
	}
	if encErr.Field != "first" || encErr.Length != 300 {
		t.Errorf("EncodingError = %+v, want first/300", encErr)
	}

	got, err := NewPacketBuilder(2).WriteUint16(0x0102).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x02, 0x01}) {
		t.Errorf("Build() = %x, want 0201", got)
	}
}

func TestPacketReader(t *testing.T) {
	data := []byte{
		0x07,
		0x34, 0x12,
		0xFE, 0xFF, 0xFF, 0xFF,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x02, 'h', 'i',
	}
	r := NewPacketReader(data)

	u8, err := r.ReadUint8("u8")
	if err != nil || u8 != 7 {
		t.Fatalf("ReadUint8() = %d, %v", u8, err)
	}
	u16, err := r.ReadUint16("u16")
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16() = %#x, %v", u16, err)
	}
	i32, err := r.ReadInt32("i32")
	if err != nil || i32 != -2 {
		t.Fatalf("ReadInt32() = %d, %v", i32, err)
	}
	u64, err := r.ReadUint64("u64")
	if err != nil || u64 != 0x0102030405060708 {
		t.Fatalf("ReadUint64() = %#x, %v", u64, err)
	}
	s, err := r.ReadString("s")
	if err != nil || s != "hi" {
		t.Fatalf("ReadString() = %q, %v", s, err)
	}
	if r.Remaining() != 0 || r.Offset() != len(data) {
		t.Errorf("Remaining() = %d, Offset() = %d", r.Remaining(), r.Offset())
	}

	_, err = r.ReadUint8("past end")
	var truncErr *TruncatedInputError
	if !errors.As(err, &truncErr) || truncErr.Field != "past end" {
		t.Errorf("ReadUint8() past end error = %v", err)
	}
}

func TestReadWritePacket(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, []byte("hello")); err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes()[:2], []byte{0x05, 0x00}) {
		t.Errorf("length prefix = %x, want 0500", buf.Bytes()[:2])
	}

	got, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadPacket() = %q, want hello", got)
	}

	if _, err := ReadPacket(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket() on empty reader error = %v, want io.EOF", err)
	}
	if _, err := ReadPacket(bytes.NewReader([]byte{0x00, 0x00})); err == nil {
		t.Error("ReadPacket() accepted a zero-length packet")
	}
	if err := WritePacket(io.Discard, nil); err == nil {
		t.Error("WritePacket() accepted an empty payload")
	}
	if err := WritePacket(io.Discard, make([]byte, MaxPacketSize+1)); err == nil {
		t.Error("WritePacket() accepted an oversized payload")
	}
}

func TestDiscoveryResponse(t *testing.T) {
	ad, err := Encode(sampleAdvertisement())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	frame, err := BuildDiscoveryResponse(0xCAFEBABE12345678, ad)
	if err != nil {
		t.Fatalf("BuildDiscoveryResponse() error = %v", err)
	}
	if len(frame) != discoveryHeaderSize+len(ad) {
		t.Errorf("len(frame) = %d, want %d", len(frame), discoveryHeaderSize+len(ad))
	}

	networkID, payload, err := ParseDiscoveryResponse(frame)
	if err != nil {
		t.Fatalf("ParseDiscoveryResponse() error = %v", err)
	}
	if networkID != 0xCAFEBABE12345678 {
		t.Errorf("networkID = %#x", networkID)
	}
	decoded, _, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := deep.Equal(decoded, sampleAdvertisement()); diff != nil {
		t.Error(diff)
	}

	if _, _, err := ParseDiscoveryResponse(frame[:len(frame)-1]); err == nil {
		t.Error("ParseDiscoveryResponse() accepted a truncated frame")
	}
	if _, _, err := ParseDiscoveryResponse(BuildDiscoveryRequest()); err == nil {
		t.Error("ParseDiscoveryResponse() accepted a request frame")
	}
}

func TestIsDiscoveryRequest(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "probe", data: BuildDiscoveryRequest(), want: true},
		{name: "probe with padding", data: []byte{DiscoveryRequestByte, 0, 0}, want: true},
		{name: "empty", data: nil, want: false},
		{name: "response marker", data: []byte{DiscoveryResponseByte}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDiscoveryRequest(tt.data); got != tt.want {
				t.Errorf("IsDiscoveryRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}
