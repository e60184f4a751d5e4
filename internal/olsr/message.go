package olsr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mesholsr/simulator/internal/meshid"
)

// NodeID re-exports meshid.NodeID so package olsr's public surface reads
// naturally without forcing every caller to import meshid directly.
type NodeID = meshid.NodeID

// HelloMessage is the periodic single-hop broadcast listing a sender's
// perceived unidirectional, symmetric (bidirectional), and MPR neighbors.
// HELLO is always flooded: its next-hop slot is always "*".
type HelloMessage struct {
	Sender         NodeID
	Unidirectional []NodeID
	Bidirectional  []NodeID
	MPR            []NodeID
}

func (h HelloMessage) String() string {
	return fmt.Sprintf("* %s HELLO UNIDIR%s BIDIR%s MPR%s",
		h.Sender, joinIDs(h.Unidirectional), joinIDs(h.Bidirectional), joinIDs(h.MPR))
}

// TCMessage is a flooded topology-control advertisement. Originator and
// Sequence are immutable across forwards; only Forwarder is rewritten on
// each retransmission. TC is always flooded.
type TCMessage struct {
	Forwarder    NodeID
	Originator   NodeID
	Sequence     int
	MPRSelectors []NodeID
}

func (t TCMessage) String() string {
	return fmt.Sprintf("* %s TC %s %d MS%s", t.Forwarder, t.Originator, t.Sequence, joinIDs(t.MPRSelectors))
}

// DataMessage carries opaque unicast application payload. DATA is never
// flooded: NextHop always names a specific receiver.
type DataMessage struct {
	NextHop     NodeID
	Forwarder   NodeID
	Source      NodeID
	Destination NodeID
	Payload     string
}

func (d DataMessage) String() string {
	return fmt.Sprintf("%s %s DATA %s %s %s", d.NextHop, d.Forwarder, d.Source, d.Destination, d.Payload)
}

// joinIDs renders ids with a leading space before each one, so an empty
// list adds nothing after its section label.
func joinIDs(ids []NodeID) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteByte(' ')
		b.WriteString(id.String())
	}
	return b.String()
}

// ErrParseMessage reports a malformed mailbox line. Per the protocol's
// error-handling policy, a parse failure is never fatal: the caller drops
// the line and continues the batch.
type ErrParseMessage struct {
	msg string
}

func (e ErrParseMessage) Error() string {
	return fmt.Sprintf("parse message: %s", e.msg)
}

// Header is the common next-hop/forwarder/type prefix shared by every wire
// line, peeled off before the type-specific body is parsed.
type Header struct {
	Flooded   bool
	NextHop   NodeID
	Forwarder NodeID
	Kind      string
	rest      string
}

// ParseHeader splits the next-hop, forwarder, and type keyword off the
// front of line, leaving the type-specific remainder for ParseLine. It is
// also sufficient, on its own, to perform receive-side next-hop filtering
// without committing to parsing the rest of the line.
func ParseHeader(line string) (Header, error) {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) < 3 {
		return Header{}, ErrParseMessage{msg: fmt.Sprintf("too few fields: %q", line)}
	}

	h := Header{Kind: parts[2]}
	if len(parts) == 4 {
		h.rest = parts[3]
	}

	if parts[0] == "*" {
		h.Flooded = true
	} else {
		id, err := meshid.ParseNodeID(parts[0])
		if err != nil {
			return Header{}, ErrParseMessage{msg: fmt.Sprintf("invalid next-hop %q: %s", parts[0], err)}
		}
		h.NextHop = id
	}

	fwd, err := meshid.ParseNodeID(parts[1])
	if err != nil {
		return Header{}, ErrParseMessage{msg: fmt.Sprintf("invalid forwarder %q: %s", parts[1], err)}
	}
	h.Forwarder = fwd

	return h, nil
}

// Accepts reports whether a receiver with identifier self should accept a
// line with this next-hop: either it is flooded (any receiver accepts) or
// it unicasts to self.
func (h Header) Accepts(self NodeID) bool {
	return h.Flooded || h.NextHop == self
}

// ParseLine parses a full mailbox line into a HelloMessage, TCMessage, or
// DataMessage. Callers that only need the next-hop for filtering should
// use ParseHeader instead; ParseLine is for lines that already passed the
// receive-side filter.
func ParseLine(line string) (interface{}, error) {
	h, err := ParseHeader(line)
	if err != nil {
		return nil, err
	}
	switch h.Kind {
	case "HELLO":
		return parseHello(h)
	case "TC":
		return parseTC(h)
	case "DATA":
		return parseData(h)
	default:
		return nil, ErrParseMessage{msg: fmt.Sprintf("unknown message type %q", h.Kind)}
	}
}

func parseHello(h Header) (HelloMessage, error) {
	fields := strings.Fields(h.rest)
	sections := map[string][]NodeID{"UNIDIR": nil, "BIDIR": nil, "MPR": nil}
	current := ""
	for _, f := range fields {
		if _, isLabel := sections[f]; isLabel {
			current = f
			continue
		}
		if current == "" {
			return HelloMessage{}, ErrParseMessage{msg: fmt.Sprintf("HELLO body missing section label: %q", h.rest)}
		}
		id, err := meshid.ParseNodeID(f)
		if err != nil {
			return HelloMessage{}, ErrParseMessage{msg: fmt.Sprintf("invalid neighbor id %q: %s", f, err)}
		}
		sections[current] = append(sections[current], id)
	}
	return HelloMessage{
		Sender:         h.Forwarder,
		Unidirectional: sections["UNIDIR"],
		Bidirectional:  sections["BIDIR"],
		MPR:            sections["MPR"],
	}, nil
}

func parseTC(h Header) (TCMessage, error) {
	fields := strings.Fields(h.rest)
	if len(fields) < 3 || fields[2] != "MS" {
		return TCMessage{}, ErrParseMessage{msg: fmt.Sprintf("malformed TC body: %q", h.rest)}
	}
	originator, err := meshid.ParseNodeID(fields[0])
	if err != nil {
		return TCMessage{}, ErrParseMessage{msg: fmt.Sprintf("invalid originator %q: %s", fields[0], err)}
	}
	seq, err := strconv.Atoi(fields[1])
	if err != nil {
		return TCMessage{}, ErrParseMessage{msg: fmt.Sprintf("invalid sequence %q: %s", fields[1], err)}
	}
	ms := make([]NodeID, 0, len(fields)-3)
	for _, f := range fields[3:] {
		id, err := meshid.ParseNodeID(f)
		if err != nil {
			return TCMessage{}, ErrParseMessage{msg: fmt.Sprintf("invalid MPR selector %q: %s", f, err)}
		}
		ms = append(ms, id)
	}
	return TCMessage{
		Forwarder:    h.Forwarder,
		Originator:   originator,
		Sequence:     seq,
		MPRSelectors: ms,
	}, nil
}

func parseData(h Header) (DataMessage, error) {
	if h.Flooded {
		return DataMessage{}, ErrParseMessage{msg: "DATA message must not be flooded"}
	}
	parts := strings.SplitN(h.rest, " ", 3)
	if len(parts) < 2 {
		return DataMessage{}, ErrParseMessage{msg: fmt.Sprintf("malformed DATA body: %q", h.rest)}
	}
	src, err := meshid.ParseNodeID(parts[0])
	if err != nil {
		return DataMessage{}, ErrParseMessage{msg: fmt.Sprintf("invalid source %q: %s", parts[0], err)}
	}
	dst, err := meshid.ParseNodeID(parts[1])
	if err != nil {
		return DataMessage{}, ErrParseMessage{msg: fmt.Sprintf("invalid destination %q: %s", parts[1], err)}
	}
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}
	return DataMessage{
		NextHop:     h.NextHop,
		Forwarder:   h.Forwarder,
		Source:      src,
		Destination: dst,
		Payload:     payload,
	}, nil
}
