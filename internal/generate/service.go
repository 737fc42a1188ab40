package generate

import (
	"context"

	"github.com/sqlscout/sqlscout/internal/retrieval"
)

// Candidate is one generated SQL statement awaiting validation. It
// lives only for the request that produced it.
type Candidate struct {
	SQL         string
	Explanation string
	Confidence  float64
	Attempt     int
	ContextIDs  []string
}

// Service is the generation backend boundary. Output is untrusted and
// must pass validation before anything executes it.
type Service interface {
	// Generate produces a SQL candidate for the question against the
	// assembled context. Returns a generation_declined error when the
	// backend will not commit to an answer, and a generation_timeout
	// error when the call exceeds its budget.
	Generate(ctx context.Context, question string, assembled *retrieval.Context, attempt int) (*Candidate, error)
}
