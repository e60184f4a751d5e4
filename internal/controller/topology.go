// Package controller implements the medium emulator: it applies timed
// link up/down events to a unidirectional topology map and, each tick,
// fans new outbox lines out to every source's current live neighbors. It
// never inspects payload content.
package controller

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mesholsr/simulator/internal/meshid"
)

// Operation is the kind of change a topology-file line applies to an edge.
type Operation int

const (
	Up Operation = iota
	Down
)

func (o Operation) String() string {
	if o == Up {
		return "UP"
	}
	return "DOWN"
}

// ChangeEvent is one timestamped, unidirectional edge mutation: `A UP B`
// means messages written by A reach B, not the reverse.
type ChangeEvent struct {
	Tick        int
	Op          Operation
	Source      meshid.NodeID
	Destination meshid.NodeID
}

// ErrParseTopologyLine reports a malformed topology-file line.
type ErrParseTopologyLine struct {
	msg string
}

func (e ErrParseTopologyLine) Error() string {
	return fmt.Sprintf("parse topology line: %s", e.msg)
}

func parseChangeEvent(line string) (ChangeEvent, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return ChangeEvent{}, ErrParseTopologyLine{msg: fmt.Sprintf("must be '<tick> <UP|DOWN> <source> <destination>': %q", line)}
	}

	tick, err := strconv.Atoi(fields[0])
	if err != nil || tick < 0 {
		return ChangeEvent{}, ErrParseTopologyLine{msg: fmt.Sprintf("invalid tick %q", fields[0])}
	}

	var op Operation
	switch fields[1] {
	case "UP":
		op = Up
	case "DOWN":
		op = Down
	default:
		return ChangeEvent{}, ErrParseTopologyLine{msg: fmt.Sprintf("invalid operation %q: must be UP or DOWN", fields[1])}
	}

	source, err := meshid.ParseNodeID(fields[2])
	if err != nil {
		return ChangeEvent{}, ErrParseTopologyLine{msg: fmt.Sprintf("invalid source %q: %s", fields[2], err)}
	}
	destination, err := meshid.ParseNodeID(fields[3])
	if err != nil {
		return ChangeEvent{}, ErrParseTopologyLine{msg: fmt.Sprintf("invalid destination %q: %s", fields[3], err)}
	}

	return ChangeEvent{Tick: tick, Op: op, Source: source, Destination: destination}, nil
}

// LoadChangeEvents parses a topology file into a map keyed by tick, for
// O(1) lookup during simulation. Blank lines are skipped.
func LoadChangeEvents(r io.Reader) (map[int][]ChangeEvent, error) {
	events := make(map[int][]ChangeEvent)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ev, err := parseChangeEvent(line)
		if err != nil {
			return nil, err
		}
		events[ev.Tick] = append(events[ev.Tick], ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	return events, nil
}

// Topology is the controller's live view of the unidirectional medium.
// It is mutated only by applying timestamped ChangeEvents.
type Topology struct {
	edges  map[meshid.NodeID]meshid.Set
	events map[int][]ChangeEvent
}

// NewTopology builds a Topology with no live edges yet, driven by events.
func NewTopology(events map[int][]ChangeEvent) *Topology {
	return &Topology{edges: make(map[meshid.NodeID]meshid.Set), events: events}
}

// Apply installs every change event scheduled for tick, in the order they
// were loaded. UP on a live edge and DOWN on an absent edge are no-ops, so
// order matters only when one tick carries both an UP and a DOWN for the
// same edge: the later of the two wins.
func (t *Topology) Apply(tick int) {
	for _, ev := range t.events[tick] {
		switch ev.Op {
		case Up:
			if t.edges[ev.Source] == nil {
				t.edges[ev.Source] = meshid.Set{}
			}
			t.edges[ev.Source][ev.Destination] = struct{}{}
		case Down:
			delete(t.edges[ev.Source], ev.Destination)
		}
	}
}

// Sources returns every source with at least one live out-edge, sorted for
// deterministic iteration.
func (t *Topology) Sources() []meshid.NodeID {
	ids := make([]meshid.NodeID, 0, len(t.edges))
	for src, nbrs := range t.edges {
		if len(nbrs) > 0 {
			ids = append(ids, src)
		}
	}
	return meshid.NewSet(ids...).Sorted()
}

// Neighbors returns the current live out-neighbors of source.
func (t *Topology) Neighbors(source meshid.NodeID) meshid.Set {
	return t.edges[source]
}
