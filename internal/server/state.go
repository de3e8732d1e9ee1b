// Package server holds the live state of the advertised session: the
// advertisement record the host edits and the encoded buffer the endpoint
// serves.
package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/util"
)

// Publisher receives every successfully encoded advertisement.
type Publisher interface {
	SetAdvertisement(buf []byte)
}

// AdvertisementState is the thread-safe, editable advertisement record.
// Every change is encoded before it is applied, so the stored record always
// has a valid encoding and a rejected edit leaves the previous one in place.
type AdvertisementState struct {
	// writeMu serializes edits across commit and publish so the publisher
	// always ends up holding the buffer of the latest revision.
	writeMu sync.Mutex

	mu        sync.RWMutex
	record    protocol.Advertisement
	encoded   []byte
	updatedAt time.Time
	revision  uint64

	publisher Publisher
	logger    zerolog.Logger
}

// AdvertisementPatch is a partial update. Nil fields are left unchanged.
type AdvertisementPatch struct {
	ServerName     *string `json:"server_name,omitempty"`
	LevelName      *string `json:"level_name,omitempty"`
	GameType       *int32  `json:"game_type,omitempty"`
	PlayerCount    *int32  `json:"player_count,omitempty"`
	MaxPlayerCount *int32  `json:"max_player_count,omitempty"`
	EditorWorld    *bool   `json:"editor_world,omitempty"`
	Hardcore       *bool   `json:"hardcore,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p AdvertisementPatch) IsEmpty() bool {
	return p.ServerName == nil && p.LevelName == nil && p.GameType == nil &&
		p.PlayerCount == nil && p.MaxPlayerCount == nil &&
		p.EditorWorld == nil && p.Hardcore == nil
}

// Apply returns ad with the patch applied.
func (p AdvertisementPatch) Apply(ad protocol.Advertisement) protocol.Advertisement {
	if p.ServerName != nil {
		ad.ServerName = *p.ServerName
	}
	if p.LevelName != nil {
		ad.LevelName = *p.LevelName
	}
	if p.GameType != nil {
		ad.GameType = *p.GameType
	}
	if p.PlayerCount != nil {
		ad.PlayerCount = *p.PlayerCount
	}
	if p.MaxPlayerCount != nil {
		ad.MaxPlayerCount = *p.MaxPlayerCount
	}
	if p.EditorWorld != nil {
		ad.EditorWorld = *p.EditorWorld
	}
	if p.Hardcore != nil {
		ad.Hardcore = *p.Hardcore
	}
	return ad
}

// NewAdvertisementState encodes initial and publishes it.
func NewAdvertisementState(initial protocol.Advertisement, publisher Publisher) (*AdvertisementState, error) {
	s := &AdvertisementState{
		publisher: publisher,
		logger:    util.ComponentLogger("advertisement"),
	}
	if err := s.Set(initial); err != nil {
		return nil, err
	}
	return s, nil
}

// Set replaces the whole record.
func (s *AdvertisementState) Set(ad protocol.Advertisement) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.set(ad)
}

// set encodes, commits and publishes ad. Callers hold writeMu.
func (s *AdvertisementState) set(ad protocol.Advertisement) error {
	buf, err := protocol.Encode(ad)
	if err != nil {
		return fmt.Errorf("failed to encode advertisement: %w", err)
	}

	s.mu.Lock()
	s.record = ad
	s.encoded = buf
	s.updatedAt = time.Now()
	s.revision++
	rev := s.revision
	s.mu.Unlock()

	s.logger.Info().
		Uint64("revision", rev).
		Str("server_name", ad.ServerName).
		Int32("players", ad.PlayerCount).
		Int32("max_players", ad.MaxPlayerCount).
		Int("length", len(buf)).
		Msg("advertisement set")

	if s.publisher != nil {
		s.publisher.SetAdvertisement(buf)
	}
	return nil
}

// Update applies patch to the current record. On an encoding error the
// current record is kept and the error is returned unchanged in its chain.
func (s *AdvertisementState) Update(patch AdvertisementPatch) (protocol.Advertisement, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.Record()
	next := patch.Apply(current)
	if err := s.set(next); err != nil {
		return current, err
	}
	return next, nil
}

// SetPlayerCount updates only the player count.
func (s *AdvertisementState) SetPlayerCount(n int32) error {
	_, err := s.Update(AdvertisementPatch{PlayerCount: &n})
	return err
}

// Record returns the current record.
func (s *AdvertisementState) Record() protocol.Advertisement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// Encoded returns a copy of the current encoded buffer.
func (s *AdvertisementState) Encoded() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]byte, len(s.encoded))
	copy(cp, s.encoded)
	return cp
}

// Snapshot returns a read-only snapshot of the current state.
func (s *AdvertisementState) Snapshot() AdvertisementSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := make([]byte, len(s.encoded))
	copy(cp, s.encoded)
	return AdvertisementSnapshot{
		Advertisement: s.record,
		Encoded:       cp,
		Length:        len(cp),
		Revision:      s.revision,
		UpdatedAt:     s.updatedAt,
	}
}

// AdvertisementSnapshot is an immutable snapshot of the advertisement state.
type AdvertisementSnapshot struct {
	Advertisement protocol.Advertisement `json:"advertisement"`
	Encoded       []byte                 `json:"-"`
	Length        int                    `json:"length"`
	Revision      uint64                 `json:"revision"`
	UpdatedAt     time.Time              `json:"updated_at"`
}
