package core

// routing.go – the gossip path-lookup capability, grounded on
// core/common_structs.go's PeerManager interface shape (a narrow,
// injected, read-only capability rather than a concrete graph owned
// by the consensus core) and core/replication.go's peer-routing
// plumbing, reduced to exactly one operation: find_paths. The core
// never maintains the graph itself.

// StaticRouter is the simplest PathFinder: a precomputed adjacency map,
// useful for tests and small deployments where the topology is known
// up front rather than discovered via gossip.
type StaticRouter struct {
	edges map[EntityId][]EntityId
}

// NewStaticRouter builds a router from an adjacency list. edges must be
// symmetric if the topology is bidirectional; the caller decides.
func NewStaticRouter(edges map[EntityId][]EntityId) *StaticRouter {
	return &StaticRouter{edges: edges}
}

// FindPaths performs a breadth-first search from 'from' to 'to' and
// returns the paths found, shortest first. Each node is visited once,
// so of several shortest paths sharing an intermediate node only the
// first one reached is returned.
func (r *StaticRouter) FindPaths(from, to EntityId) ([][]EntityId, error) {
	if from == to {
		return nil, &NoRouteFoundError{From: from, To: to}
	}

	type frontierEntry struct {
		node EntityId
		path []EntityId
	}
	visited := map[EntityId]bool{from: true}
	queue := []frontierEntry{{node: from, path: []EntityId{from}}}
	var found [][]EntityId

	for len(queue) > 0 && len(found) == 0 {
		var next []frontierEntry
		for _, entry := range queue {
			for _, neighbor := range r.edges[entry.node] {
				if neighbor == to {
					path := append(append([]EntityId(nil), entry.path...), neighbor)
					found = append(found, path)
					continue
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				next = append(next, frontierEntry{node: neighbor, path: append(append([]EntityId(nil), entry.path...), neighbor)})
			}
		}
		queue = next
	}

	if len(found) == 0 {
		return nil, &NoRouteFoundError{From: from, To: to}
	}
	return found, nil
}

// AddEdge registers a directed hop from a to b (and, if bidirectional
// is true, the reverse hop too).
func (r *StaticRouter) AddEdge(a, b EntityId, bidirectional bool) {
	r.edges[a] = append(r.edges[a], b)
	if bidirectional {
		r.edges[b] = append(r.edges[b], a)
	}
}
