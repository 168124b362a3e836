// Package matcher picks the best-matching enrolled identity for a query
// face embedding by cosine similarity against the active employee set.
package matcher

import "github.com/kestrel-systems/faceaccess/internal/store"

// Candidate is one employee and every embedding enrolled for them.
type Candidate struct {
	Employee   store.Employee
	Embeddings [][]float32
}

// Result is the outcome of a single match attempt.
type Result struct {
	Matched     bool
	EmployeeID  string
	DisplayName string
	Score       float64
}

// Match computes, for each candidate, the maximum cosine similarity between
// query and any of the candidate's embeddings, then returns the candidate
// with the greatest such score. The candidate is reported as matched only
// if that score is >= threshold; otherwise Result carries the best score
// observed with Matched == false. Ties are broken by iteration order
// (first encountered wins). An empty candidate set or a zero-norm query
// both yield a no-match result with score 0.
func Match(query []float32, candidates []Candidate, threshold float64) Result {
	if len(candidates) == 0 || l2Norm(query) == 0 {
		return Result{Matched: false, Score: 0}
	}

	var best Result
	haveBest := false

	for _, c := range candidates {
		var bestForEmployee float64
		for _, v := range c.Embeddings {
			s := cosineSimilarity(query, v)
			if s > bestForEmployee {
				bestForEmployee = s
			}
		}
		if !haveBest || bestForEmployee > best.Score {
			best = Result{
				EmployeeID:  c.Employee.ID,
				DisplayName: c.Employee.DisplayName,
				Score:       bestForEmployee,
			}
			haveBest = true
		}
	}

	best.Matched = best.Score >= threshold
	return best
}
