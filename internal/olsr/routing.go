package olsr

import (
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mesholsr/simulator/internal/meshid"
)

// graph is an undirected adjacency view built fresh for each routing-table
// computation: plain keyed containers, no back-references, per the design
// note that the transient graph needs no ownership of its own.
type graph map[NodeID]meshid.Set

func (g graph) addEdge(u, v NodeID) {
	if g[u] == nil {
		g[u] = meshid.Set{}
	}
	g[u][v] = struct{}{}
}

func (g graph) symmetrize() {
	for u, vs := range g {
		for v := range vs {
			if g[v] == nil {
				g[v] = meshid.Set{}
			}
			g[v][u] = struct{}{}
		}
	}
}

// signature builds a deterministic string key for a graph so that repeated
// routing computations over an unchanged topology view can be served from
// cache instead of re-running the shortest-path search.
func (g graph) signature() string {
	nodes := make([]NodeID, 0, len(g))
	for u := range g {
		nodes = append(nodes, u)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var b strings.Builder
	for _, u := range nodes {
		b.WriteString(u.String())
		b.WriteByte(':')
		for _, v := range g[u].Sorted() {
			b.WriteString(strconv.FormatUint(uint64(v), 10))
			b.WriteByte(',')
		}
		b.WriteByte(';')
	}
	return b.String()
}

// bfsFirstHops runs a hop-count shortest-path search from self over g and
// returns, for every reachable node other than self, the first hop on a
// shortest path. A FIFO frontier is used rather than the reference
// implementation's LIFO-with-early-visited frontier: both converge to the
// same hop-count distances since every edge costs one hop, and BFS gives
// that guarantee without relying on visitation order.
func bfsFirstHops(self NodeID, g graph) map[NodeID]NodeID {
	dist := map[NodeID]int{self: 0}
	prev := map[NodeID]NodeID{}
	visited := meshid.Set{self: {}}
	queue := []NodeID{self}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for v := range g[u] {
			if visited.Contains(v) {
				continue
			}
			visited[v] = struct{}{}
			dist[v] = dist[u] + 1
			prev[v] = u
			queue = append(queue, v)
		}
	}

	firstHops := make(map[NodeID]NodeID, len(dist))
	for v := range dist {
		if v == self {
			continue
		}
		cur := v
		for prev[cur] != self {
			cur = prev[cur]
		}
		firstHops[v] = cur
	}
	return firstHops
}

// routeCache memoizes first-hop tables by graph signature, so that the
// repeated routing recomputations a flapping topology triggers don't each
// pay for a fresh traversal when the underlying graph hasn't actually
// changed shape.
type routeCache struct {
	cache *lru.Cache[string, map[NodeID]NodeID]
}

func newRouteCache(size int) *routeCache {
	c, err := lru.New[string, map[NodeID]NodeID](size)
	if err != nil {
		// Only returns an error for size <= 0, which never happens here.
		panic(err)
	}
	return &routeCache{cache: c}
}

func (rc *routeCache) firstHops(self NodeID, g graph) map[NodeID]NodeID {
	sig := g.signature()
	if cached, ok := rc.cache.Get(sig); ok {
		return cloneRoutes(cached)
	}
	routes := bfsFirstHops(self, g)
	rc.cache.Add(sig, cloneRoutes(routes))
	return routes
}

func cloneRoutes(routes map[NodeID]NodeID) map[NodeID]NodeID {
	out := make(map[NodeID]NodeID, len(routes))
	for k, v := range routes {
		out[k] = v
	}
	return out
}
