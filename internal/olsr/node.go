// Package olsr implements the per-node OLSR state machine: neighbor
// discovery from HELLO, MPR election over the 2-hop neighborhood,
// MPR-gated TC flooding, link-state routing-table recomputation, and
// unicast DATA forwarding with next-hop rewriting.
package olsr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mesholsr/simulator/internal/meshid"
	"github.com/mesholsr/simulator/pkg/mailbox"
)

const (
	horizonTicks      = 120
	neighborHoldTicks = 15
	tcHoldTicks       = 30
	sendRetryTicks    = 30
	helloPeriodTicks  = 5
	tcPeriodTicks     = 10
)

// NeighborStatus is the two-valued state of a 1-hop link: HELLOs heard but
// not yet confirmed (Asymmetric), or mutual reception confirmed
// (Symmetric). Status only rises; it falls only via full eviction.
type NeighborStatus int

const (
	Asymmetric NeighborStatus = iota
	Symmetric
)

func (s NeighborStatus) String() string {
	if s == Symmetric {
		return "SYMMETRIC"
	}
	return "ASYMMETRIC"
}

// Neighbor is this node's record of one 1-hop link, keyed by the
// neighbor's identifier in Node.neighbors.
type Neighbor struct {
	ID            NodeID
	Status        NeighborStatus
	Timer         int
	IsMPR         bool
	IsMPRSelector bool
	TwoHop        meshid.Set
}

// tcEntry is this node's record of one remote originator's topology
// advertisement, keyed by originator in Node.tc.
type tcEntry struct {
	Originator   NodeID
	Sequence     int
	Timer        int
	MPRSelectors meshid.Set
}

// pendingSend is the one outstanding DATA send a node may have scheduled at
// construction time via the `node <src> <dst> [payload delay]` CLI
// contract. Relay-only nodes (source == destination) never have one.
type pendingSend struct {
	destination NodeID
	payload     string
	attemptTick int
	sent        bool
}

// Node is the per-node OLSR agent.
type Node struct {
	ID     NodeID
	logger *zap.Logger

	mailbox *mailbox.NodeMailbox

	neighbors  map[NodeID]*Neighbor
	tc         map[NodeID]*tcEntry
	routes     map[NodeID]NodeID
	routeCache *routeCache

	localTCSeq int
	pending    *pendingSend

	topologyChanged bool
	tickInterval    time.Duration
}

// NewNode builds a Node agent. mb is the node's mailbox; pass isRelay for a
// pure relay (source == destination per the CLI contract), in which case
// destination, payload and delay are ignored and no send is scheduled.
func NewNode(id NodeID, mb *mailbox.NodeMailbox, logger *zap.Logger, destination NodeID, payload string, delay int, isRelay bool) *Node {
	n := &Node{
		ID:           id,
		logger:       logger,
		mailbox:      mb,
		neighbors:    make(map[NodeID]*Neighbor),
		tc:           make(map[NodeID]*tcEntry),
		routes:       make(map[NodeID]NodeID),
		routeCache:   newRouteCache(8),
		tickInterval: time.Second,
	}
	if !isRelay {
		n.pending = &pendingSend{destination: destination, payload: payload, attemptTick: delay}
	}
	return n
}

// SetTickInterval overrides the wall-clock duration of one simulated tick.
// The node binary sets it from --tick-interval.
func (n *Node) SetTickInterval(d time.Duration) {
	n.tickInterval = d
}

// Run drives the node for the full 120-tick horizon, honoring the 1-tick
// startup warmup so every process's mailbox files exist before the first
// exchange.
func (n *Node) Run(ctx context.Context) {
	time.Sleep(n.tickInterval)
	for i := 1; i <= horizonTicks; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := n.Tick(i); err != nil {
			n.logger.Error("tick failed", zap.Int("tick", i), zap.Error(err))
		}
		time.Sleep(n.tickInterval)
	}
}

// Tick runs one iteration of the per-node schedule described in the
// protocol design: read and filter inbound lines, process DATA then TC
// then HELLO, attempt a scheduled send, periodically emit HELLO/TC, decay
// timers, and recompute routes if anything changed.
func (n *Node) Tick(i int) error {
	n.topologyChanged = false

	lines, err := n.mailbox.Inbox.ReadNew()
	if err != nil {
		return err
	}

	var dataMsgs []rawData
	var tcMsgs []TCMessage
	var helloMsgs []HelloMessage
	for _, line := range lines {
		h, err := ParseHeader(line)
		if err != nil {
			n.logger.Debug("dropping malformed line", zap.String("line", line), zap.Error(err))
			continue
		}
		if !h.Accepts(n.ID) {
			continue
		}
		msg, err := ParseLine(line)
		if err != nil {
			n.logger.Debug("dropping malformed line", zap.String("line", line), zap.Error(err))
			continue
		}
		switch m := msg.(type) {
		case DataMessage:
			dataMsgs = append(dataMsgs, rawData{raw: line, msg: m})
		case TCMessage:
			tcMsgs = append(tcMsgs, m)
		case HelloMessage:
			helloMsgs = append(helloMsgs, m)
		}
	}

	for _, d := range dataMsgs {
		n.handleData(d)
	}
	for _, t := range tcMsgs {
		n.handleTC(t)
	}
	for _, h := range helloMsgs {
		n.handleHello(h)
	}
	n.electMPRs()

	if n.pending != nil && !n.pending.sent && i == n.pending.attemptTick {
		if n.sendData(n.pending.destination, n.pending.payload) {
			n.pending.sent = true
		} else {
			n.pending.attemptTick += sendRetryTicks
		}
	}

	if i%helloPeriodTicks == 0 {
		n.sendHello()
	}
	if i%tcPeriodTicks == 0 && len(n.mprSelectors()) > 0 {
		n.sendTC()
	}

	for originator, entry := range n.tc {
		entry.Timer--
		if entry.Timer < 0 {
			delete(n.tc, originator)
			n.topologyChanged = true
		}
	}
	for id, nb := range n.neighbors {
		nb.Timer--
		if nb.Timer < 0 {
			delete(n.neighbors, id)
			n.topologyChanged = true
		}
	}

	if n.topologyChanged {
		n.recomputeRoutes()
	}

	return nil
}

type rawData struct {
	raw string
	msg DataMessage
}

// handleData implements DATA processing: deliver locally, or rewrite and
// relay along the routing table, or drop silently if no route exists.
func (n *Node) handleData(d rawData) {
	if d.msg.Destination == n.ID {
		if err := n.mailbox.Received.Append(d.raw); err != nil {
			n.logger.Error("failed to record received data", zap.Error(err))
		}
		return
	}
	next, ok := n.routes[d.msg.Destination]
	if !ok {
		return
	}
	d.msg.NextHop = next
	d.msg.Forwarder = n.ID
	n.appendOutbox(d.msg.String())
}

// handleTC implements TC processing: self-origin drop, sequence-gated
// install, and MPR-selector-gated forwarding of the rewritten line.
func (n *Node) handleTC(msg TCMessage) {
	if msg.Originator == n.ID {
		return
	}

	entry, exists := n.tc[msg.Originator]
	if exists && entry.Sequence >= msg.Sequence {
		return
	}

	n.tc[msg.Originator] = &tcEntry{
		Originator:   msg.Originator,
		Sequence:     msg.Sequence,
		Timer:        tcHoldTicks,
		MPRSelectors: meshid.NewSet(msg.MPRSelectors...),
	}
	n.topologyChanged = true

	fwd, ok := n.neighbors[msg.Forwarder]
	if !ok || !fwd.IsMPRSelector {
		return
	}
	msg.Forwarder = n.ID
	n.appendOutbox(msg.String())
}

// handleHello implements the five HELLO-processing steps. MPR re-election
// happens once per tick, after the whole batch, in Tick.
func (n *Node) handleHello(msg HelloMessage) {
	nb, exists := n.neighbors[msg.Sender]
	if !exists {
		nb = &Neighbor{ID: msg.Sender, Status: Asymmetric}
		n.neighbors[msg.Sender] = nb
		n.topologyChanged = true
	}

	nb.Timer = neighborHoldTicks

	if containsID(msg.Unidirectional, n.ID) || containsID(msg.Bidirectional, n.ID) {
		if nb.Status != Symmetric {
			nb.Status = Symmetric
			n.topologyChanged = true
		}
	}

	if containsID(msg.MPR, n.ID) && !nb.IsMPRSelector {
		nb.IsMPRSelector = true
		n.topologyChanged = true
	}

	newTwoHop := meshid.NewSet(msg.Bidirectional...)
	delete(newTwoHop, n.ID)
	if !setsEqual(nb.TwoHop, newTwoHop) {
		n.topologyChanged = true
	}
	nb.TwoHop = newTwoHop
}

// electMPRs recomputes the MPR set greedily over the current 2-hop view.
// Flags set as MPR in prior ticks are never cleared here: this sticky
// behavior is an explicit, preserved property of the reference protocol,
// not an oversight (see DESIGN.md).
func (n *Node) electMPRs() {
	ids := n.sortedNeighborIDs()
	oneHop := meshid.NewSet(ids...)

	uncovered := meshid.Set{}
	for _, id := range ids {
		for two := range n.neighbors[id].TwoHop {
			if !oneHop.Contains(two) {
				uncovered[two] = struct{}{}
			}
		}
	}

	for len(uncovered) > 0 {
		var best NodeID
		bestCount := -1
		for _, id := range ids {
			count := 0
			for two := range n.neighbors[id].TwoHop {
				if uncovered.Contains(two) {
					count++
				}
			}
			if count > bestCount {
				bestCount = count
				best = id
			}
		}
		if bestCount <= 0 {
			// Every remaining uncovered node is unreachable through any
			// 1-hop neighbor's advertised 2-hop set; nothing left to do.
			break
		}
		n.neighbors[best].IsMPR = true
		for two := range n.neighbors[best].TwoHop {
			delete(uncovered, two)
		}
	}
}

// recomputeRoutes rebuilds the routing table from the current neighbor and
// TC tables, per the graph-construction rule: self's symmetric neighbors,
// plus one edge per TC entry's MPR-selector set, symmetrized.
func (n *Node) recomputeRoutes() {
	g := graph{}
	selfEdges := meshid.Set{}
	for id, nb := range n.neighbors {
		if nb.Status == Symmetric {
			selfEdges[id] = struct{}{}
		}
	}
	g[n.ID] = selfEdges

	for originator, entry := range n.tc {
		cp := make(meshid.Set, len(entry.MPRSelectors))
		for m := range entry.MPRSelectors {
			cp[m] = struct{}{}
		}
		g[originator] = cp
	}
	g.symmetrize()

	n.routes = n.routeCache.firstHops(n.ID, g)
}

func (n *Node) sortedNeighborIDs() []NodeID {
	ids := make([]NodeID, 0, len(n.neighbors))
	for id := range n.neighbors {
		ids = append(ids, id)
	}
	return meshid.NewSet(ids...).Sorted()
}

func (n *Node) mprSelectors() meshid.Set {
	s := meshid.Set{}
	for id, nb := range n.neighbors {
		if nb.IsMPRSelector {
			s[id] = struct{}{}
		}
	}
	return s
}

// sendData attempts to send payload to destination. It reports whether a
// route existed; the tick loop reschedules the attempt 30 ticks out on
// failure.
func (n *Node) sendData(destination NodeID, payload string) bool {
	next, ok := n.routes[destination]
	if !ok {
		return false
	}
	msg := DataMessage{NextHop: next, Forwarder: n.ID, Source: n.ID, Destination: destination, Payload: payload}
	n.appendOutbox(msg.String())
	return true
}

func (n *Node) sendHello() {
	var unidir, bidir, mpr []NodeID
	for _, id := range n.sortedNeighborIDs() {
		nb := n.neighbors[id]
		switch nb.Status {
		case Asymmetric:
			unidir = append(unidir, id)
		case Symmetric:
			bidir = append(bidir, id)
			if nb.IsMPR {
				mpr = append(mpr, id)
			}
		}
	}
	msg := HelloMessage{Sender: n.ID, Unidirectional: unidir, Bidirectional: bidir, MPR: mpr}
	n.appendOutbox(msg.String())
}

func (n *Node) sendTC() {
	selectors := n.mprSelectors().Sorted()
	msg := TCMessage{Forwarder: n.ID, Originator: n.ID, Sequence: n.localTCSeq, MPRSelectors: selectors}
	n.localTCSeq++
	n.appendOutbox(msg.String())
}

func (n *Node) appendOutbox(line string) {
	if err := n.mailbox.Outbox.Append(line); err != nil {
		n.logger.Error("failed to append outbox line", zap.String("line", line), zap.Error(err))
	}
}

func containsID(ids []NodeID, target NodeID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func setsEqual(a, b meshid.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b.Contains(k) {
			return false
		}
	}
	return true
}
