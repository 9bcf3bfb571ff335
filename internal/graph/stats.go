package graph

import "sort"

// LinkEdge is one reference-kind property edge between two live nodes.
type LinkEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Field  string `json:"field"`
}

// LinkSnapshot holds the reference graph with precomputed adjacency lists.
type LinkSnapshot struct {
	Nodes  map[string]*AssembledNode
	Edges  []LinkEdge
	Adj    map[string][]string // undirected
	OutAdj map[string][]string // directed: source -> targets
	InAdj  map[string][]string // directed: target -> sources
}

// BuildLinkSnapshot derives the reference graph from assembled nodes:
// every reference-kind property value becomes a directed edge. Edges whose
// target is not in the node set (deleted, dangling) are skipped.
func BuildLinkSnapshot(nodes []AssembledNode) *LinkSnapshot {
	nodeMap := make(map[string]*AssembledNode, len(nodes))
	adj := make(map[string][]string)
	outAdj := make(map[string][]string)
	inAdj := make(map[string][]string)

	for i := range nodes {
		n := &nodes[i]
		nodeMap[n.ID] = n
		adj[n.ID] = nil // ensure entry exists
		outAdj[n.ID] = nil
		inAdj[n.ID] = nil
	}

	var edges []LinkEdge
	for i := range nodes {
		n := &nodes[i]
		for _, props := range n.Properties {
			for _, p := range props {
				if !p.Value.IsReference() {
					continue
				}
				target := p.Value.NodeID
				if _, ok := nodeMap[target]; !ok {
					continue
				}
				edges = append(edges, LinkEdge{Source: n.ID, Target: target, Field: p.FieldName})
				adj[n.ID] = append(adj[n.ID], target)
				adj[target] = append(adj[target], n.ID)
				outAdj[n.ID] = append(outAdj[n.ID], target)
				inAdj[target] = append(inAdj[target], n.ID)
			}
		}
	}

	return &LinkSnapshot{
		Nodes:  nodeMap,
		Edges:  edges,
		Adj:    adj,
		OutAdj: outAdj,
		InAdj:  inAdj,
	}
}

// NodeIDs returns a sorted list of all node ids (for deterministic output).
func (s *LinkSnapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HubNode is a node with high connectivity in the reference graph.
type HubNode struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Degree    int    `json:"degree"`
	InDegree  int    `json:"in_degree"`
	OutDegree int    `json:"out_degree"`
}

// DegreeBucket is one bucket in the degree histogram.
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// StatsReport summarizes the reference-graph topology.
type StatsReport struct {
	TotalNodes        int            `json:"total_nodes"`
	TotalEdges        int            `json:"total_edges"`
	NumComponents     int            `json:"num_components"`
	LargestComponent  int            `json:"largest_component"`
	SmallestComponent int            `json:"smallest_component"`
	OrphanCount       int            `json:"orphan_count"`
	OrphanIDs         []string       `json:"orphan_ids"`
	DegreeHistogram   []DegreeBucket `json:"degree_histogram"`
	Hubs              []HubNode      `json:"hubs"`
}

// ComputeStats analyzes the link graph: components, orphans, degree
// distribution and hubs.
func ComputeStats(snap *LinkSnapshot, hubThreshold, topN int) *StatsReport {
	totalNodes := len(snap.Nodes)
	totalEdges := len(snap.Edges)

	if totalNodes == 0 {
		return &StatsReport{DegreeHistogram: defaultHistogram()}
	}

	nodeIDs := snap.NodeIDs()
	uf := NewUnionFind(nodeIDs)
	for _, e := range snap.Edges {
		uf.Union(e.Source, e.Target)
	}

	components := uf.Components()
	largest, smallest := 0, totalNodes
	for _, c := range components {
		if len(c) > largest {
			largest = len(c)
		}
		if len(c) < smallest {
			smallest = len(c)
		}
	}

	var orphans []string
	for _, id := range nodeIDs {
		if len(snap.Adj[id]) == 0 {
			orphans = append(orphans, id)
		}
	}
	orphanCount := len(orphans)
	if len(orphans) > topN {
		orphans = orphans[:topN]
	}

	buckets := [7]int{}
	for _, id := range nodeIDs {
		buckets[degreeBucket(len(snap.Adj[id]))]++
	}
	histogram := defaultHistogram()
	for i := range histogram {
		histogram[i].Count = buckets[i]
	}

	var hubs []HubNode
	for _, id := range nodeIDs {
		degree := len(snap.Adj[id])
		if degree > hubThreshold {
			hubs = append(hubs, HubNode{
				ID:        id,
				Content:   snap.Nodes[id].Content,
				Degree:    degree,
				InDegree:  len(snap.InAdj[id]),
				OutDegree: len(snap.OutAdj[id]),
			})
		}
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Degree != hubs[j].Degree {
			return hubs[i].Degree > hubs[j].Degree
		}
		return hubs[i].ID < hubs[j].ID
	})
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}

	return &StatsReport{
		TotalNodes:        totalNodes,
		TotalEdges:        totalEdges,
		NumComponents:     len(components),
		LargestComponent:  largest,
		SmallestComponent: smallest,
		OrphanCount:       orphanCount,
		OrphanIDs:         orphans,
		DegreeHistogram:   histogram,
		Hubs:              hubs,
	}
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
