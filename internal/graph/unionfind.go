package graph

// UnionFind implements union-find with path compression and union by rank.
type UnionFind struct {
	parent map[string]string
	rank   map[string]int
}

// NewUnionFind creates a UnionFind where each element is its own component.
func NewUnionFind(ids []string) *UnionFind {
	uf := &UnionFind{
		parent: make(map[string]string, len(ids)),
		rank:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

// Find returns the root of the component containing id, with path compression.
func (uf *UnionFind) Find(id string) string {
	parent, ok := uf.parent[id]
	if !ok {
		return id
	}
	if parent != id {
		root := uf.Find(parent)
		uf.parent[id] = root
		return root
	}
	return id
}

// Union merges the components containing a and b. Returns true if they were
// separate.
func (uf *UnionFind) Union(a, b string) bool {
	rootA := uf.Find(a)
	rootB := uf.Find(b)
	if rootA == rootB {
		return false
	}
	switch {
	case uf.rank[rootA] < uf.rank[rootB]:
		uf.parent[rootA] = rootB
	case uf.rank[rootA] > uf.rank[rootB]:
		uf.parent[rootB] = rootA
	default:
		uf.parent[rootB] = rootA
		uf.rank[rootA]++
	}
	return true
}

// Components returns all connected components as slices of ids.
func (uf *UnionFind) Components() [][]string {
	groups := make(map[string][]string)
	for id := range uf.parent {
		root := uf.Find(id)
		groups[root] = append(groups[root], id)
	}
	result := make([][]string, 0, len(groups))
	for _, members := range groups {
		result = append(result, members)
	}
	return result
}
