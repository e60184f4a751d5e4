package olsr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mesholsr/simulator/internal/meshid"
	"github.com/mesholsr/simulator/pkg/mailbox"
)

func newTestNode(t *testing.T, id NodeID) *Node {
	t.Helper()
	mb := mailbox.OpenNode(t.TempDir(), id)
	return NewNode(id, mb, zap.NewNop(), 0, "", 0, true)
}

func TestHandleHello_NewNeighborStartsAsymmetric(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Unidirectional: nil, Bidirectional: nil, MPR: nil})

	nb, ok := n.neighbors[2]
	require.True(t, ok)
	assert.Equal(t, Asymmetric, nb.Status)
	assert.Equal(t, neighborHoldTicks, nb.Timer)
}

func TestHandleHello_PromotesToSymmetricWhenListedBidir(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1}})

	assert.Equal(t, Symmetric, n.neighbors[2].Status)
}

func TestHandleHello_NeverDowngradesSymmetric(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1}})
	require.Equal(t, Symmetric, n.neighbors[2].Status)

	// A later HELLO that no longer lists self does not fall back to
	// ASYMMETRIC; only eviction removes a symmetric neighbor.
	n.handleHello(HelloMessage{Sender: 2})
	assert.Equal(t, Symmetric, n.neighbors[2].Status)
}

func TestHandleHello_MarksMPRSelector(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1}, MPR: []NodeID{1}})
	assert.True(t, n.neighbors[2].IsMPRSelector)
}

func TestHandleHello_TwoHopSetExcludesSelf(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1, 3, 4}})
	two := n.neighbors[2].TwoHop
	assert.False(t, two.Contains(1))
	assert.True(t, two.Contains(3))
	assert.True(t, two.Contains(4))
}

// TestElectMPRs_CoversTwoHopNeighborhood checks invariant 3: after
// election, the union of MPRs' two-hop sets covers the 2-hop
// neighborhood.
func TestElectMPRs_CoversTwoHopNeighborhood(t *testing.T) {
	n := newTestNode(t, 1)
	// Neighbor 2 reaches {10}; neighbor 3 reaches {10, 11}. Neighbor 3
	// alone should be enough to cover the whole 2-hop set.
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1, 10}})
	n.handleHello(HelloMessage{Sender: 3, Bidirectional: []NodeID{1, 10, 11}})
	n.electMPRs()

	assert.True(t, n.neighbors[3].IsMPR)
	assert.False(t, n.neighbors[2].IsMPR)
}

func TestElectMPRs_IsMPRFlagIsSticky(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1, 10}})
	n.electMPRs()
	require.True(t, n.neighbors[2].IsMPR)

	// Neighbor 2 no longer offers any new coverage (its lone 2-hop
	// neighbor is now also directly 1-hop), yet the sticky reference
	// semantics mean its MPR flag from the previous election survives.
	n.handleHello(HelloMessage{Sender: 10, Bidirectional: []NodeID{1}})
	n.electMPRs()
	assert.True(t, n.neighbors[2].IsMPR)
}

func TestHandleTC_DropsSelfOrigin(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleTC(TCMessage{Forwarder: 2, Originator: 1, Sequence: 1})
	assert.Empty(t, n.tc)
}

func TestHandleTC_InstallsNewEntry(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleTC(TCMessage{Forwarder: 2, Originator: 5, Sequence: 1, MPRSelectors: []NodeID{2, 6}})

	entry, ok := n.tc[5]
	require.True(t, ok)
	assert.Equal(t, 1, entry.Sequence)
	assert.Equal(t, tcHoldTicks, entry.Timer)
	assert.True(t, n.topologyChanged)
}

func TestHandleTC_SuppressesNonIncreasingSequence(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleTC(TCMessage{Forwarder: 2, Originator: 5, Sequence: 3, MPRSelectors: []NodeID{6}})
	n.topologyChanged = false

	n.handleTC(TCMessage{Forwarder: 2, Originator: 5, Sequence: 3, MPRSelectors: []NodeID{7}})
	assert.False(t, n.topologyChanged)
	assert.Equal(t, 3, n.tc[5].Sequence)
	assert.True(t, n.tc[5].MPRSelectors.Contains(6))
	assert.False(t, n.tc[5].MPRSelectors.Contains(7))
}

func TestHandleTC_ForwardsOnlyWhenForwarderIsMPRSelector(t *testing.T) {
	dir := t.TempDir()
	mb := mailbox.OpenNode(dir, NodeID(1))
	n := NewNode(1, mb, zap.NewNop(), 0, "", 0, true)

	// Forwarder 2 is not (yet) an MPR selector of node 1: installed, not
	// forwarded.
	n.handleTC(TCMessage{Forwarder: 2, Originator: 5, Sequence: 1, MPRSelectors: []NodeID{6}})
	none, err := mailbox.NewReader(filepath.Join(dir, "from1")).ReadNew()
	require.NoError(t, err)
	assert.Nil(t, none)

	// Once 2 is an MPR selector of 1, a fresh TC from it is forwarded
	// with the forwarder slot rewritten to this node.
	n.neighbors[2] = &Neighbor{ID: 2, Status: Symmetric, IsMPRSelector: true, Timer: neighborHoldTicks}
	n.handleTC(TCMessage{Forwarder: 2, Originator: 5, Sequence: 2, MPRSelectors: []NodeID{6}})
	fwd, err := mailbox.NewReader(filepath.Join(dir, "from1")).ReadNew()
	require.NoError(t, err)
	require.Len(t, fwd, 1)
	assert.Equal(t, "* 1 TC 5 2 MS 6", fwd[0])
}

func TestRecomputeRoutes_DirectNeighbor(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1}})
	n.recomputeRoutes()
	assert.Equal(t, NodeID(2), n.routes[2])
}

func TestRecomputeRoutes_ThreeHopViaTC(t *testing.T) {
	n := newTestNode(t, 1)
	n.handleHello(HelloMessage{Sender: 2, Bidirectional: []NodeID{1}})
	n.handleTC(TCMessage{Forwarder: 2, Originator: 2, Sequence: 1, MPRSelectors: []NodeID{3}})
	n.handleTC(TCMessage{Forwarder: 2, Originator: 3, Sequence: 1, MPRSelectors: []NodeID{4}})
	n.recomputeRoutes()

	assert.Equal(t, NodeID(2), n.routes[4])
}

func TestTick_EmitsHelloOnPeriod(t *testing.T) {
	dir := t.TempDir()
	mb := mailbox.OpenNode(dir, NodeID(1))
	n := NewNode(1, mb, zap.NewNop(), 0, "", 0, true)

	require.NoError(t, n.Tick(5))

	lines, err := mailbox.NewReader(filepath.Join(dir, "from1")).ReadNew()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "HELLO")
}

func TestTick_RetriesSendUntilRouteExists(t *testing.T) {
	dir := t.TempDir()
	mb := mailbox.OpenNode(dir, NodeID(1))
	n := NewNode(1, mb, zap.NewNop(), 2, "hi", 1, false)

	require.NoError(t, n.Tick(1))
	assert.False(t, n.pending.sent)
	assert.Equal(t, 1+sendRetryTicks, n.pending.attemptTick)

	n.neighbors[2] = &Neighbor{ID: 2, Status: Symmetric, Timer: neighborHoldTicks}
	n.recomputeRoutes()

	require.NoError(t, n.Tick(n.pending.attemptTick))
	assert.True(t, n.pending.sent)
}

func TestTick_DeliversDataAddressedToSelfToReceivedLog(t *testing.T) {
	dir := t.TempDir()
	mb := mailbox.OpenNode(dir, NodeID(2))
	n := NewNode(2, mb, zap.NewNop(), 0, "", 0, true)

	require.NoError(t, mailbox.NewAppender(filepath.Join(dir, "to2")).Append("2 1 DATA 1 2 hi"))
	require.NoError(t, n.Tick(1))

	got, err := mailbox.NewReader(filepath.Join(dir, "received2")).ReadNew()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2 1 DATA 1 2 hi", got[0])
}

func TestTick_DiscardsDataAddressedToAnotherNode(t *testing.T) {
	dir := t.TempDir()
	mb := mailbox.OpenNode(dir, NodeID(2))
	n := NewNode(2, mb, zap.NewNop(), 0, "", 0, true)

	require.NoError(t, mailbox.NewAppender(filepath.Join(dir, "to2")).Append("5 1 DATA 1 9 hi"))
	require.NoError(t, n.Tick(1))

	got, _ := mailbox.NewReader(filepath.Join(dir, "received2")).ReadNew()
	assert.Nil(t, got)
}

// TestTick_EvictsExpiredNeighborAndRecomputesRoutes exercises the §4.3.6
// step-7 timer-decrement/eviction path: a neighbor whose timer has already
// reached zero is removed on the next tick's decrement (timer < 0), marks
// topologyChanged, and a route that depended on it disappears from the
// recomputed table.
func TestTick_EvictsExpiredNeighborAndRecomputesRoutes(t *testing.T) {
	n := newTestNode(t, 1)
	n.neighbors[2] = &Neighbor{ID: 2, Status: Symmetric, Timer: 0}
	n.recomputeRoutes()
	require.Equal(t, NodeID(2), n.routes[2])

	require.NoError(t, n.Tick(1))

	_, stillPresent := n.neighbors[2]
	assert.False(t, stillPresent)
	_, hasRoute := n.routes[2]
	assert.False(t, hasRoute)
}

// TestTick_EvictsExpiredTCEntryAndRecomputesRoutes covers the same
// tear-down path for the TC table: a stale entry (timer < 0 after decrement)
// is removed, marks topologyChanged, and the route it had supplied is
// dropped on recomputation.
func TestTick_EvictsExpiredTCEntryAndRecomputesRoutes(t *testing.T) {
	n := newTestNode(t, 1)
	n.neighbors[2] = &Neighbor{ID: 2, Status: Symmetric, Timer: neighborHoldTicks}
	n.tc[2] = &tcEntry{Originator: 2, Sequence: 1, Timer: 0, MPRSelectors: meshid.NewSet(NodeID(6))}
	n.recomputeRoutes()
	require.Equal(t, NodeID(2), n.routes[6])

	require.NoError(t, n.Tick(1))

	_, stillPresent := n.tc[2]
	assert.False(t, stillPresent)
	_, hasRoute := n.routes[6]
	assert.False(t, hasRoute)
	// The neighbor itself had a healthy timer and survives this tick.
	_, neighborPresent := n.neighbors[2]
	assert.True(t, neighborPresent)
}
