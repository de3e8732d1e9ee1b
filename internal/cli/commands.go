// Package cli implements Beacon's interactive command-line interface: live
// connection status and editing of the advertised session.
package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/beacon/internal/db"
	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/network"
	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/server"
)

// Endpoint is the part of the running endpoint the CLI reads.
type Endpoint interface {
	NetworkID() uint64
	Connections() *network.ConnectionRegistry
}

// History is the session history shown by the history command. It may be
// nil when the database is disabled.
type History interface {
	RecentConnections(limit int) ([]db.ConnectionRecord, error)
}

// Settings persists the advertised session so edits survive a restart. It
// may be nil.
type Settings interface {
	SaveAdvertisement(ad protocol.Advertisement) error
	Path() string
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	endpoint Endpoint
	state    *server.AdvertisementState
	history  History
	settings Settings

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI reading commands from in and writing to out.
func NewCLI(eventBus *events.EventBus, endpoint Endpoint, state *server.AdvertisementState, history History, settings Settings, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		endpoint: endpoint,
		state:    state,
		history:  history,
		settings: settings,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nBeacon CLI ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input error, CLI disabled")
		}
	}()

	for {
		fmt.Fprint(c.out, "beacon> ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return
		case line, ok = <-lines:
			if !ok {
				return
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]
		// rest keeps the argument text as typed, inner spacing included.
		rest := strings.TrimSpace(line[len(parts[0]):])

		if err := c.execute(ctx, cmd, args, rest); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string, rest string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "ad", "advertisement":
		c.printAdvertisement()
	case "history":
		return c.printHistory(args)
	case "players":
		return c.cmdSetCount(args, func(n int32) server.AdvertisementPatch {
			return server.AdvertisementPatch{PlayerCount: &n}
		})
	case "maxplayers":
		return c.cmdSetCount(args, func(n int32) server.AdvertisementPatch {
			return server.AdvertisementPatch{MaxPlayerCount: &n}
		})
	case "name":
		return c.cmdSetText(rest, func(s string) server.AdvertisementPatch {
			return server.AdvertisementPatch{ServerName: &s}
		})
	case "level":
		return c.cmdSetText(rest, func(s string) server.AdvertisementPatch {
			return server.AdvertisementPatch{LevelName: &s}
		})
	case "kick":
		return c.cmdKick(args)
	case "save":
		return c.cmdSave()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Beacon...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                     Beacon CLI Commands                      ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show live connections                   ║")
	fmt.Fprintln(c.out, "║  ad                 Show the served advertisement           ║")
	fmt.Fprintln(c.out, "║  history [n]        Show the last n connections             ║")
	fmt.Fprintln(c.out, "║  players <n>        Set the advertised player count         ║")
	fmt.Fprintln(c.out, "║  maxplayers <n>     Set the advertised max player count     ║")
	fmt.Fprintln(c.out, "║  name <text>        Set the advertised server name          ║")
	fmt.Fprintln(c.out, "║  level <text>       Set the advertised level name           ║")
	fmt.Fprintln(c.out, "║  kick <id>          Close a connection                      ║")
	fmt.Fprintln(c.out, "║  save               Keep the advertisement across restarts  ║")
	fmt.Fprintln(c.out, "║  quit               Shutdown Beacon                         ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                  ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

// printStatus displays live connections in a formatted table.
func (c *CLI) printStatus() {
	all := c.endpoint.Connections().GetAll()
	conns := make([]network.ConnectionInfo, 0, len(all))
	for _, conn := range all {
		conns = append(conns, conn.Info())
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })

	fmt.Fprintf(c.out, "\n  Network ID:   %d\n", c.endpoint.NetworkID())
	fmt.Fprintf(c.out, "  Connections:  %d\n\n", len(conns))
	if len(conns) == 0 {
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Address", "Connected", "Last Activity", "Frames", "Bytes"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range conns {
		tw.Append([]string{
			strconv.FormatUint(info.ID, 10),
			info.Address,
			time.Since(info.ConnectedAt).Truncate(time.Second).String(),
			info.LastActivity.Format(time.TimeOnly),
			strconv.FormatUint(info.FramesReceived, 10),
			strconv.FormatUint(info.BytesReceived, 10),
		})
	}

	tw.Render()
	fmt.Fprintln(c.out)
}

// printAdvertisement displays the current advertisement record.
func (c *CLI) printAdvertisement() {
	snap := c.state.Snapshot()
	ad := snap.Advertisement

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"Version", strconv.Itoa(int(ad.Version))},
		{"Server Name", ad.ServerName},
		{"Level Name", ad.LevelName},
		{"Game Type", gameTypeName(ad.GameType)},
		{"Players", fmt.Sprintf("%d / %d", ad.PlayerCount, ad.MaxPlayerCount)},
		{"Editor World", strconv.FormatBool(ad.EditorWorld)},
		{"Hardcore", strconv.FormatBool(ad.Hardcore)},
		{"Transport Layer", strconv.Itoa(int(ad.TransportLayer))},
		{"Encoded Length", strconv.Itoa(snap.Length)},
		{"Revision", strconv.FormatUint(snap.Revision, 10)},
	})

	fmt.Fprintln(c.out)
	tw.Render()
	fmt.Fprintf(c.out, "  %s\n\n", hex.EncodeToString(snap.Encoded))
}

// printHistory displays recent connections from the session history.
func (c *CLI) printHistory(args []string) error {
	if c.history == nil {
		return errors.New("session history is disabled")
	}

	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	records, err := c.history.RecentConnections(limit)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Address", "Opened", "Closed", "Reason", "Frames", "Bytes"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, rec := range records {
		closed := "-"
		if rec.ClosedAt != nil {
			closed = rec.ClosedAt.Format(time.DateTime)
		}
		tw.Append([]string{
			strconv.FormatUint(rec.ConnectionID, 10),
			rec.Address,
			rec.OpenedAt.Format(time.DateTime),
			closed,
			rec.CloseReason,
			strconv.FormatUint(rec.FramesReceived, 10),
			strconv.FormatUint(rec.BytesReceived, 10),
		})
	}

	fmt.Fprintln(c.out)
	tw.Render()
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdSetCount(args []string, patch func(int32) server.AdvertisementPatch) error {
	if len(args) != 1 {
		return errors.New("usage: players|maxplayers <count>")
	}
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || n < 0 || n > math.MaxInt32 {
		return fmt.Errorf("invalid count: %s", args[0])
	}
	return c.apply(patch(int32(n)))
}

func (c *CLI) cmdSetText(text string, patch func(string) server.AdvertisementPatch) error {
	if text == "" {
		return errors.New("usage: name|level <text>")
	}
	return c.apply(patch(text))
}

func (c *CLI) apply(patch server.AdvertisementPatch) error {
	ad, err := c.state.Update(patch)
	if err != nil {
		var encErr *protocol.EncodingError
		if errors.As(err, &encErr) {
			return fmt.Errorf("%s is %d bytes, the limit is %d", encErr.Field, encErr.Length, protocol.MaxStringLength)
		}
		return err
	}
	fmt.Fprintf(c.out, "Advertisement updated (%d bytes)\n", protocol.EncodedLen(ad))
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: kick <connection id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid connection id: %s", args[0])
	}

	conn, ok := c.endpoint.Connections().Get(id)
	if !ok {
		return fmt.Errorf("connection %d not found", id)
	}
	conn.CloseWithReason(events.CloseKicked)
	fmt.Fprintf(c.out, "Connection %d closed\n", id)
	return nil
}

func (c *CLI) cmdSave() error {
	if c.settings == nil {
		return errors.New("saving is not available")
	}
	if err := c.settings.SaveAdvertisement(c.state.Record()); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Advertisement saved to %s\n", c.settings.Path())
	return nil
}

func gameTypeName(t int32) string {
	switch t {
	case protocol.GameTypeSurvival:
		return "survival (0)"
	case protocol.GameTypeCreative:
		return "creative (1)"
	case protocol.GameTypeAdventure:
		return "adventure (2)"
	}
	return strconv.Itoa(int(t))
}
