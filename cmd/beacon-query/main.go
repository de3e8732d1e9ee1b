// beacon-query probes a Beacon discovery endpoint and prints the decoded
// session advertisement.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/beacon/internal/network"
)

// Options are the command-line options of beacon-query.
type Options struct {
	Address   string        `short:"a" long:"address" description:"Discovery address to probe (host:port)" default:"127.0.0.1:7551"`
	Timeout   time.Duration `short:"t" long:"timeout" description:"How long to wait for responses" default:"2s"`
	Broadcast bool          `short:"b" long:"broadcast" description:"Collect every response within the timeout instead of the first"`
	JSON      bool          `short:"j" long:"json" description:"Print responses as JSON"`
	Raw       bool          `short:"r" long:"raw" description:"Include the encoded advertisement as hex"`
	Verbose   bool          `short:"v" long:"verbose" description:"Log debug output to stderr"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level := zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout+time.Second)
	defer cancel()

	var sessions []network.DiscoveredSession
	if opts.Broadcast {
		found, err := network.Discover(ctx, opts.Address, opts.Timeout)
		if err != nil {
			log.Error().Err(err).Str("address", opts.Address).Msg("discovery failed")
			os.Exit(1)
		}
		sessions = found
	} else {
		session, err := network.QueryAdvertisement(ctx, opts.Address, opts.Timeout)
		if err != nil {
			log.Error().Err(err).Str("address", opts.Address).Msg("query failed")
			os.Exit(1)
		}
		sessions = []network.DiscoveredSession{*session}
	}

	if len(sessions) == 0 {
		fmt.Fprintf(os.Stderr, "no sessions answered on %s within %s\n", opts.Address, opts.Timeout)
		os.Exit(1)
	}

	if opts.JSON {
		if err := printJSON(os.Stdout, sessions, opts.Raw); err != nil {
			log.Error().Err(err).Msg("failed to encode output")
			os.Exit(1)
		}
		return
	}
	printTable(os.Stdout, sessions, opts.Raw)
}

type sessionOutput struct {
	network.DiscoveredSession
	NetworkID string `json:"network_id"`
	Hex       string `json:"hex,omitempty"`
	Length    int    `json:"length"`
}

func printJSON(w io.Writer, sessions []network.DiscoveredSession, raw bool) error {
	out := make([]sessionOutput, 0, len(sessions))
	for _, s := range sessions {
		o := sessionOutput{
			DiscoveredSession: s,
			NetworkID:         strconv.FormatUint(s.NetworkID, 10),
			Length:            len(s.Raw),
		}
		if raw {
			o.Hex = hex.EncodeToString(s.Raw)
		}
		out = append(out, o)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printTable(w io.Writer, sessions []network.DiscoveredSession, raw bool) {
	header := []string{"Address", "Network ID", "Server", "Level", "Mode", "Players", "Editor", "Hardcore", "Transport", "Bytes"}
	if raw {
		header = append(header, "Hex")
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		ad := s.Advertisement
		row := []string{
			s.Address,
			strconv.FormatUint(s.NetworkID, 10),
			ad.ServerName,
			ad.LevelName,
			strconv.Itoa(int(ad.GameType)),
			fmt.Sprintf("%d/%d", ad.PlayerCount, ad.MaxPlayerCount),
			strconv.FormatBool(ad.EditorWorld),
			strconv.FormatBool(ad.Hardcore),
			strconv.Itoa(int(ad.TransportLayer)),
			strconv.Itoa(len(s.Raw)),
		}
		if raw {
			row = append(row, hex.EncodeToString(s.Raw))
		}
		tw.Append(row)
	}

	tw.Render()
}
