package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/util"
)

// maxDatagramSize bounds discovery reads. A response is at most
// 11 header bytes plus a 531 byte advertisement.
const maxDatagramSize = 1500

// AdvertisementSource supplies the responder with the current encoded
// advertisement and the endpoint's network id.
type AdvertisementSource interface {
	NetworkID() uint64
	Advertisement() []byte
}

// DiscoveryResponder answers UDP discovery probes with the current
// advertisement. Peers broadcast a probe; every endpoint on the segment
// replies directly to the sender.
type DiscoveryResponder struct {
	source  AdvertisementSource
	limiter *rate.Limiter
	conn    net.PacketConn
	logger  zerolog.Logger
}

// NewDiscoveryResponder creates a responder allowing ratePerSec replies per second.
func NewDiscoveryResponder(source AdvertisementSource, ratePerSec int) *DiscoveryResponder {
	if ratePerSec < 1 {
		ratePerSec = 1
	}
	return &DiscoveryResponder{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		logger:  util.ComponentLogger("discovery"),
	}
}

// Bind opens the UDP socket.
func (d *DiscoveryResponder) Bind(ctx context.Context, addr string) error {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to start discovery responder on %s: %w", addr, err)
	}
	d.conn = pc

	d.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("discovery responder started")
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (d *DiscoveryResponder) Addr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Serve reads and answers probes until ctx is cancelled.
func (d *DiscoveryResponder) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		d.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, remoteAddr, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				d.logger.Info().Msg("discovery responder stopping")
				return
			}
			d.logger.Error().Err(err).Msg("UDP read error")
			continue
		}

		if !protocol.IsDiscoveryRequest(buf[:n]) {
			continue
		}
		d.respond(remoteAddr)
	}
}

// respond sends the current advertisement to addr, if one is registered
// and the rate limit allows it.
func (d *DiscoveryResponder) respond(addr net.Addr) {
	ad := d.source.Advertisement()
	if ad == nil {
		d.logger.Trace().Str("remote", addr.String()).Msg("no advertisement registered, ignoring probe")
		return
	}
	if !d.limiter.Allow() {
		d.logger.Trace().Str("remote", addr.String()).Msg("discovery rate limit reached, dropping probe")
		return
	}

	response, err := protocol.BuildDiscoveryResponse(d.source.NetworkID(), ad)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to build discovery response")
		return
	}

	if _, err := d.conn.WriteTo(response, addr); err != nil {
		d.logger.Warn().Err(err).Str("remote", addr.String()).Msg("failed to send discovery response")
		return
	}

	d.logger.Trace().Str("remote", addr.String()).Msg("responded to discovery probe")
}

// DiscoveredSession is one advertisement received from a discovery probe.
type DiscoveredSession struct {
	Address       string                 `json:"address"`
	NetworkID     uint64                 `json:"network_id"`
	Advertisement protocol.Advertisement `json:"advertisement"`
	Raw           []byte                 `json:"-"`
}

// QueryAdvertisement probes a single endpoint and decodes its reply.
func QueryAdvertisement(ctx context.Context, addr string, timeout time.Duration) (*DiscoveredSession, error) {
	sessions, err := discover(ctx, addr, timeout, 1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no discovery response from %s within %s", addr, timeout)
	}
	return &sessions[0], nil
}

// Discover sends one probe to a (typically broadcast) address and collects
// every valid reply received within window. Malformed replies are logged
// and skipped.
func Discover(ctx context.Context, addr string, window time.Duration) ([]DiscoveredSession, error) {
	return discover(ctx, addr, window, 0)
}

// discover collects up to limit replies (0 means no limit).
func discover(ctx context.Context, addr string, window time.Duration, limit int) ([]DiscoveredSession, error) {
	target, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery address %s: %w", addr, err)
	}

	lc := BroadcastListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open discovery socket: %w", err)
	}
	defer pc.Close()

	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	pc.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	if _, err := pc.WriteTo(protocol.BuildDiscoveryRequest(), target); err != nil {
		return nil, fmt.Errorf("failed to send discovery probe to %s: %w", addr, err)
	}

	var sessions []DiscoveredSession
	buf := make([]byte, maxDatagramSize)
	for limit == 0 || len(sessions) < limit {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			if ctx.Err() != nil {
				return sessions, ctx.Err()
			}
			return sessions, fmt.Errorf("discovery read failed: %w", err)
		}

		session, err := parseSession(from, buf[:n])
		if err != nil {
			log.Debug().Err(err).Str("remote", from.String()).Msg("ignoring malformed discovery response")
			continue
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

func parseSession(from net.Addr, data []byte) (*DiscoveredSession, error) {
	networkID, raw, err := protocol.ParseDiscoveryResponse(data)
	if err != nil {
		return nil, err
	}
	ad, _, err := protocol.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode advertisement: %w", err)
	}
	return &DiscoveredSession{
		Address:       from.String(),
		NetworkID:     networkID,
		Advertisement: ad,
		Raw:           raw,
	}, nil
}
