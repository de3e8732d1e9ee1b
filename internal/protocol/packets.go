// Package protocol implements the binary formats spoken by Beacon: the
// fixed-layout session advertisement, the UDP discovery frames that carry it,
// and the length-prefixed framing used on peer connections. All multi-byte
// integers are little-endian.
package protocol

// Discovery frame markers.
const (
	DiscoveryRequestByte  byte = 0xAD // Peer asks for the current advertisement
	DiscoveryResponseByte byte = 0xAE // Endpoint answers with network id + advertisement
)

// MaxPacketSize is the maximum allowed size for a single framed packet.
const MaxPacketSize = 65535

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 2

// MaxStringLength is the largest UTF-8 byte length a u8 length prefix can describe.
const MaxStringLength = 255

// AdvertisementFixedSize is the number of advertisement bytes that do not
// depend on the two string fields.
const AdvertisementFixedSize = 21

// discoveryHeaderSize covers [marker:1][network_id:8][length:2].
const discoveryHeaderSize = 11
