package protocol

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-test/deep"
)

func sampleAdvertisement() Advertisement {
	return Advertisement{
		Version:        1,
		ServerName:     "NetherNet Test Server",
		LevelName:      "Test World",
		GameType:       GameTypeCreative,
		PlayerCount:    0,
		MaxPlayerCount: 10,
		EditorWorld:    false,
		Hardcore:       false,
		TransportLayer: 2,
	}
}

func TestEncodeSampleAdvertisement(t *testing.T) {
	got, err := Encode(sampleAdvertisement())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var want []byte
	want = append(want, 0x01, 0x15)
	want = append(want, "NetherNet Test Server"...)
	want = append(want, 0x0A)
	want = append(want, "Test World"...)
	want = append(want,
		0x01, 0x00, 0x00, 0x00, // game type
		0x00, 0x00, 0x00, 0x00, // player count
		0x0A, 0x00, 0x00, 0x00, // max player count
		0x00,                   // editor world
		0x00,                   // hardcore
		0x02, 0x00, 0x00, 0x00, // transport layer
	)

	if len(got) != 52 {
		t.Errorf("len(Encode()) = %d, want 52", len(got))
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestEncodeEmptyStrings(t *testing.T) {
	got, err := Encode(Advertisement{Version: 7})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(got) != AdvertisementFixedSize {
		t.Fatalf("len(Encode()) = %d, want %d", len(got), AdvertisementFixedSize)
	}
	if got[0] != 7 || got[1] != 0 || got[2] != 0 {
		t.Errorf("header = %x, want 07 00 00", got[:3])
	}
}

func TestEncodeFields(t *testing.T) {
	ad := Advertisement{
		GameType:       -1,
		PlayerCount:    math.MaxInt32,
		MaxPlayerCount: math.MinInt32,
		EditorWorld:    true,
		Hardcore:       true,
		TransportLayer: 0x01020304,
	}
	got, err := Encode(ad)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := []byte{
		0x00, 0x00, 0x00,
		0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0x7F,
		0x00, 0x00, 0x00, 0x80,
		0x01,
		0x01,
		0x04, 0x03, 0x02, 0x01,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestEncodeStringLimit(t *testing.T) {
	tests := []struct {
		name    string
		ad      Advertisement
		wantErr bool
		field   string
	}{
		{
			name: "server name at 255 bytes",
			ad:   Advertisement{ServerName: strings.Repeat("a", 255)},
		},
		{
			name: "level name at 255 bytes",
			ad:   Advertisement{LevelName: strings.Repeat("b", 255)},
		},
		{
			name:    "server name at 256 bytes",
			ad:      Advertisement{ServerName: strings.Repeat("a", 256)},
			wantErr: true,
			field:   "server name",
		},
		{
			name:    "level name at 256 bytes",
			ad:      Advertisement{LevelName: strings.Repeat("b", 256)},
			wantErr: true,
			field:   "level name",
		},
		{
			// 128 two-byte runes: 128 characters, 256 bytes.
			name:    "multibyte level name over the limit",
			ad:      Advertisement{LevelName: strings.Repeat("é", 128)},
			wantErr: true,
			field:   "level name",
		},
		{
			// 85 three-byte runes: 255 bytes.
			name: "multibyte server name at the limit",
			ad:   Advertisement{ServerName: strings.Repeat("世", 85)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.ad)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}
				if len(got) != EncodedLen(tt.ad) {
					t.Errorf("len(Encode()) = %d, want %d", len(got), EncodedLen(tt.ad))
				}
				return
			}

			var encErr *EncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("Encode() error = %v, want *EncodingError", err)
			}
			if encErr.Field != tt.field {
				t.Errorf("EncodingError.Field = %q, want %q", encErr.Field, tt.field)
			}
			if got != nil {
				t.Errorf("Encode() returned %d bytes alongside an error", len(got))
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ad   Advertisement
	}{
		{name: "sample", ad: sampleAdvertisement()},
		{name: "zero value", ad: Advertisement{}},
		{
			name: "extremes",
			ad: Advertisement{
				Version:        math.MaxUint8,
				ServerName:     strings.Repeat("s", 255),
				LevelName:      strings.Repeat("l", 255),
				GameType:       math.MinInt32,
				PlayerCount:    -5,
				MaxPlayerCount: math.MaxInt32,
				EditorWorld:    true,
				Hardcore:       true,
				TransportLayer: -1,
			},
		},
		{
			name: "unicode names",
			ad: Advertisement{
				Version:        4,
				ServerName:     "Сервер 🎮",
				LevelName:      "世界",
				GameType:       GameTypeAdventure,
				PlayerCount:    3,
				MaxPlayerCount: 8,
				Hardcore:       true,
				TransportLayer: 2,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.ad.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}
			if len(data) != AdvertisementFixedSize+len(tt.ad.ServerName)+len(tt.ad.LevelName) {
				t.Errorf("len = %d, want %d", len(data), EncodedLen(tt.ad))
			}

			got, n, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(data) {
				t.Errorf("Decode() consumed %d bytes, want %d", n, len(data))
			}
			if diff := deep.Equal(got, tt.ad); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Encode(sampleAdvertisement())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for i := 0; i < len(data); i++ {
		ad, n, err := Decode(data[:i])
		var truncErr *TruncatedInputError
		if !errors.As(err, &truncErr) {
			t.Fatalf("Decode(prefix %d) error = %v, want *TruncatedInputError", i, err)
		}
		if n != 0 {
			t.Errorf("Decode(prefix %d) consumed %d, want 0", i, n)
		}
		if diff := deep.Equal(ad, Advertisement{}); diff != nil {
			t.Errorf("Decode(prefix %d) returned partial record: %v", i, diff)
		}
	}

	if _, _, err := Decode(data); err != nil {
		t.Errorf("Decode(full) error = %v", err)
	}
}

func TestDecodeStringLengthBeyondBuffer(t *testing.T) {
	data := []byte{0x01, 0xFF, 'a', 'b', 'c'}
	_, _, err := Decode(data)

	var truncErr *TruncatedInputError
	if !errors.As(err, &truncErr) {
		t.Fatalf("Decode() error = %v, want *TruncatedInputError", err)
	}
	if truncErr.Field != "server name" || truncErr.Need != 255 || truncErr.Have != 3 {
		t.Errorf("TruncatedInputError = %+v", truncErr)
	}
}

func TestDecodeMalformedText(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		field string
	}{
		{
			name:  "invalid server name",
			data:  []byte{0x01, 0x02, 0xC3, 0x28, 0x00},
			field: "server name",
		},
		{
			name:  "invalid level name",
			data:  []byte{0x01, 0x01, 'x', 0x01, 0xFF},
			field: "level name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			var textErr *MalformedTextError
			if !errors.As(err, &textErr) {
				t.Fatalf("Decode() error = %v, want *MalformedTextError", err)
			}
			if textErr.Field != tt.field {
				t.Errorf("MalformedTextError.Field = %q, want %q", textErr.Field, tt.field)
			}
		})
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	data, err := Encode(sampleAdvertisement())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	withTail := append(append([]byte{}, data...), 0xDE, 0xAD)

	got, n, err := Decode(withTail)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n != len(data) {
		t.Errorf("Decode() consumed %d, want %d", n, len(data))
	}
	if diff := deep.Equal(got, sampleAdvertisement()); diff != nil {
		t.Error(diff)
	}
}

func TestDecodeNonZeroBoolean(t *testing.T) {
	data, err := Encode(Advertisement{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	data[15] = 0x02 // editor world
	data[16] = 0xFF // hardcore

	got, _, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.EditorWorld || !got.Hardcore {
		t.Errorf("Decode() flags = %v/%v, want true/true", got.EditorWorld, got.Hardcore)
	}
}
