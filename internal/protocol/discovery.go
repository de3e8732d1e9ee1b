package protocol

import "fmt"

// BuildDiscoveryRequest creates the UDP probe a peer broadcasts to find sessions.
// Format: [marker:1]
func BuildDiscoveryRequest() []byte {
	return []byte{DiscoveryRequestByte}
}

// IsDiscoveryRequest reports whether a datagram is a discovery probe.
func IsDiscoveryRequest(data []byte) bool {
	return len(data) > 0 && data[0] == DiscoveryRequestByte
}

// BuildDiscoveryResponse wraps an encoded advertisement for a discovery reply.
// Format: [marker:1][network_id:8][length:2][advertisement...]
func BuildDiscoveryResponse(networkID uint64, advertisement []byte) ([]byte, error) {
	if len(advertisement) > MaxPacketSize {
		return nil, fmt.Errorf("advertisement too large: %d bytes (max %d)", len(advertisement), MaxPacketSize)
	}
	b := NewPacketBuilder(discoveryHeaderSize + len(advertisement))
	b.WriteUint8(DiscoveryResponseByte).
		WriteUint64(networkID).
		WriteUint16(uint16(len(advertisement))).
		WriteBytes(advertisement)
	return b.Build()
}

// ParseDiscoveryResponse splits a discovery reply into the responder's network
// id and the raw advertisement bytes.
func ParseDiscoveryResponse(data []byte) (uint64, []byte, error) {
	r := NewPacketReader(data)

	marker, err := r.ReadUint8("marker")
	if err != nil {
		return 0, nil, err
	}
	if marker != DiscoveryResponseByte {
		return 0, nil, fmt.Errorf("unexpected discovery marker: 0x%02X", marker)
	}

	networkID, err := r.ReadUint64("network id")
	if err != nil {
		return 0, nil, err
	}
	length, err := r.ReadUint16("advertisement length")
	if err != nil {
		return 0, nil, err
	}
	payload, err := r.ReadBytes("advertisement", int(length))
	if err != nil {
		return 0, nil, err
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return networkID, out, nil
}
