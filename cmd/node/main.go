// Command node runs a single OLSR node agent for 120 simulated ticks.
//
// Usage: node <source_id> <dest_id> [payload delay]
//
// When source_id == dest_id the node runs as a pure relay. Otherwise it
// schedules a DATA send of payload at the given delay tick, retrying
// every 30 ticks until a route to dest_id exists.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mesholsr/simulator/internal/config"
	"github.com/mesholsr/simulator/internal/meshid"
	"github.com/mesholsr/simulator/internal/olsr"
	"github.com/mesholsr/simulator/pkg/logging"
	"github.com/mesholsr/simulator/pkg/mailbox"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("node", pflag.ExitOnError)
	cfg, positional, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	if len(positional) < 2 {
		return fmt.Errorf("usage: node <source_id> <dest_id> [payload delay]")
	}

	sourceID, err := meshid.ParseNodeID(positional[0])
	if err != nil {
		return fmt.Errorf("source_id: %w", err)
	}
	destID, err := meshid.ParseNodeID(positional[1])
	if err != nil {
		return fmt.Errorf("dest_id: %w", err)
	}

	var payload string
	var delay int
	isRelay := sourceID == destID
	if !isRelay {
		if len(positional) < 4 {
			return fmt.Errorf("usage: node <source_id> <dest_id> <payload> <delay>")
		}
		payload = positional[2]
		delay, err = strconv.Atoi(positional[3])
		if err != nil {
			return fmt.Errorf("delay: %w", err)
		}
	}

	logger := logging.New(cfg.LogLevel).With(
		zap.String("run_id", uuid.NewString()),
		zap.Stringer("node_id", sourceID),
	)
	defer logger.Sync() //nolint:errcheck

	mb := mailbox.OpenNode(cfg.WorkDir, sourceID)
	n := olsr.NewNode(sourceID, mb, logger, destID, payload, delay, isRelay)
	n.SetTickInterval(cfg.TickInterval)
	n.Run(context.Background())

	return nil
}
