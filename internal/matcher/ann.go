package matcher

import (
	"sync"

	"github.com/coder/hnsw"
)

// Index is an optional in-memory approximate nearest-neighbor accelerator
// for the active set, for deployments where a full linear scan over every
// enrolled embedding is too slow to run per frame. It never changes the
// matching contract implemented by Match: it only narrows which candidates
// Match is asked to exactly rescore. Building is cheap enough to redo
// whenever the Store's active set changes; callers rebuild on every
// pipeline snapshot rather than trying to patch the graph incrementally.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int]
	byIdx []Candidate // index i corresponds to hnsw node id i
}

// NewIndex returns an empty index. Call BuildFromCandidates before Candidates.
func NewIndex() *Index {
	return &Index{}
}

// BuildFromCandidates rebuilds the graph from scratch against the given
// active-set snapshot. Each candidate may contribute more than one node
// (one per embedding) so that Candidates can surface the owning employee for
// whichever embedding is nearest.
func (idx *Index) BuildFromCandidates(candidates []Candidate) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance

	var nodes []Candidate
	nodeID := 0
	for _, c := range candidates {
		for _, v := range c.Embeddings {
			g.Add(hnsw.MakeNode(nodeID, v))
			nodes = append(nodes, Candidate{Employee: c.Employee, Embeddings: [][]float32{v}})
			nodeID++
		}
	}

	idx.graph = g
	idx.byIdx = nodes
}

// Candidates returns up to k employees whose nearest embedding is closest
// to query, deduplicated by employee id, in nearest-first order. The
// caller is expected to feed the result back through Match for the exact,
// contractual score and tie-breaking behavior.
func (idx *Index) Candidates(query []float32, k int) []Candidate {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil || len(idx.byIdx) == 0 {
		return nil
	}

	neighbors := idx.graph.Search(query, k)
	seen := make(map[string]bool, len(neighbors))
	out := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Key < 0 || n.Key >= len(idx.byIdx) {
			continue
		}
		c := idx.byIdx[n.Key]
		if seen[c.Employee.ID] {
			continue
		}
		seen[c.Employee.ID] = true
		out = append(out, c)
	}
	return out
}
