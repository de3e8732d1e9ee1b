package protocol

// GameType is the default game mode a session advertises. The codec does not
// interpret it; these are the values peers conventionally understand.
const (
	GameTypeSurvival  int32 = 0
	GameTypeCreative  int32 = 1
	GameTypeAdventure int32 = 2
)

// Advertisement describes a running game session for peer discovery.
// Field order matches the wire layout:
//
//	offset  size  field
//	0       1     version (u8)
//	1       1     server name length N (u8)
//	2       N     server name (utf-8)
//	2+N     1     level name length M (u8)
//	3+N     M     level name (utf-8)
//	3+N+M   4     game type (i32)
//	7+N+M   4     player count (i32)
//	11+N+M  4     max player count (i32)
//	15+N+M  1     editor world (u8 0|1)
//	16+N+M  1     hardcore (u8 0|1)
//	17+N+M  4     transport layer (i32)
type Advertisement struct {
	Version        uint8  `json:"version"`
	ServerName     string `json:"server_name"`
	LevelName      string `json:"level_name"`
	GameType       int32  `json:"game_type"`
	PlayerCount    int32  `json:"player_count"`
	MaxPlayerCount int32  `json:"max_player_count"`
	EditorWorld    bool   `json:"editor_world"`
	Hardcore       bool   `json:"hardcore"`
	TransportLayer int32  `json:"transport_layer"`
}

// EncodedLen returns the size of the encoded advertisement in bytes.
func EncodedLen(ad Advertisement) int {
	return AdvertisementFixedSize + len(ad.ServerName) + len(ad.LevelName)
}

// Encode packs ad into a newly allocated buffer. It fails with an
// *EncodingError when either string is longer than 255 bytes.
func Encode(ad Advertisement) ([]byte, error) {
	b := NewPacketBuilder(EncodedLen(ad))
	b.WriteUint8(ad.Version).
		WriteString("server name", ad.ServerName).
		WriteString("level name", ad.LevelName).
		WriteInt32(ad.GameType).
		WriteInt32(ad.PlayerCount).
		WriteInt32(ad.MaxPlayerCount).
		WriteBool(ad.EditorWorld).
		WriteBool(ad.Hardcore).
		WriteInt32(ad.TransportLayer)
	return b.Build()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (ad Advertisement) MarshalBinary() ([]byte, error) {
	return Encode(ad)
}

// Decode reads one advertisement from the start of data and returns it with
// the number of bytes consumed. Bytes past the advertisement are left alone.
func Decode(data []byte) (Advertisement, int, error) {
	var (
		ad  Advertisement
		err error
	)
	r := NewPacketReader(data)

	if ad.Version, err = r.ReadUint8("version"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.ServerName, err = r.ReadString("server name"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.LevelName, err = r.ReadString("level name"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.GameType, err = r.ReadInt32("game type"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.PlayerCount, err = r.ReadInt32("player count"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.MaxPlayerCount, err = r.ReadInt32("max player count"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.EditorWorld, err = r.ReadBool("editor world"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.Hardcore, err = r.ReadBool("hardcore"); err != nil {
		return Advertisement{}, 0, err
	}
	if ad.TransportLayer, err = r.ReadInt32("transport layer"); err != nil {
		return Advertisement{}, 0, err
	}

	return ad, r.Offset(), nil
}
