// Package trust computes decayed transitive trust and groundedness over
// the endorsement graph. Scores are never stored: every query is a pure
// traversal of the graph as it stands, so a concurrently-added endorsement
// is reflected by the next call rather than by cache invalidation inside
// the engine.
package trust

import (
	"math"

	"github.com/wot-technology/wellspring/crypto"
)

// Default traversal parameters.
const (
	// DefaultDecay is the per-hop multiplicative attenuation applied when
	// trust is computed transitively.
	DefaultDecay = 0.5
	// DefaultMaxHops bounds transitive trust traversals.
	DefaultMaxHops = 4
	// DefaultGroundednessDepth bounds provenance recursion.
	DefaultGroundednessDepth = 6
	// BaseGroundedness is the confidence assigned to a record with empty
	// provenance: an intentionally-terminal assertion, not an error.
	BaseGroundedness = 0.2
	// BreadthBonus scales the logarithmic reward for multiple independent
	// sources.
	BreadthBonus = 0.05
)

// Vouch is a directed trust edge to an identity.
type Vouch struct {
	Target crypto.Digest
	Weight float64
}

// Graph is the read-only endorsement graph a traversal runs against. It is
// an explicit snapshot argument: the engine holds no graph state of its
// own.
type Graph interface {
	// VouchesFrom returns the outgoing vouch edges of an identity. Unknown
	// identities return no edges; absence of trust is a valid, common
	// state, not an error.
	VouchesFrom(id crypto.Digest) ([]Vouch, error)

	// ProvenanceOf returns the provenance references of a record and
	// whether the record is known at all.
	ProvenanceOf(id crypto.Digest) ([]crypto.Digest, bool, error)
}

// Engine holds traversal parameters. The zero value is not usable; use
// NewEngine.
type Engine struct {
	decay        float64
	maxDepth     int
	base         float64
	breadthBonus float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecay overrides the per-hop decay constant.
func WithDecay(d float64) Option { return func(e *Engine) { e.decay = d } }

// WithGroundednessDepth overrides the provenance recursion bound.
func WithGroundednessDepth(n int) Option { return func(e *Engine) { e.maxDepth = n } }

// NewEngine returns an Engine with the default parameters, modified by
// opts.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		decay:        DefaultDecay,
		maxDepth:     DefaultGroundednessDepth,
		base:         BaseGroundedness,
		breadthBonus: BreadthBonus,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trust computes the trust score observer places in target, in [0, 1].
//
// A direct vouch is returned undecayed. Transitive trust takes the best
// single path — the maximum over intermediates of edge weight times decay
// times the intermediate's own trust in the target — never the sum: sums
// would let many weak paths forge strong trust. Negative weights attenuate
// toward zero and never flip sign across hops (a double negative cannot
// produce a boost); a negative direct vouch clamps to zero, acting as a
// veto.
func (e *Engine) Trust(g Graph, observer, target crypto.Digest, maxHops int) (float64, error) {
	score, _, err := e.trustPath(g, observer, target, maxHops, map[crypto.Digest]bool{}, false)
	if err != nil {
		return 0, err
	}
	return clamp01(score), nil
}

// TrustPath is Trust plus the path the winning score was derived through,
// observer first. The path is empty when the score is zero.
func (e *Engine) TrustPath(g Graph, observer, target crypto.Digest, maxHops int) (float64, []crypto.Digest, error) {
	score, path, err := e.trustPath(g, observer, target, maxHops, map[crypto.Digest]bool{}, true)
	if err != nil {
		return 0, nil, err
	}
	score = clamp01(score)
	if score == 0 {
		return 0, nil, nil
	}
	return score, append([]crypto.Digest{observer}, path...), nil
}

func (e *Engine) trustPath(
	g Graph,
	observer, target crypto.Digest,
	maxHops int,
	visited map[crypto.Digest]bool,
	wantPath bool,
) (float64, []crypto.Digest, error) {
	if observer == target {
		return 1.0, nil, nil
	}
	if maxHops <= 0 || visited[observer] {
		return 0, nil, nil
	}
	visited[observer] = true
	defer delete(visited, observer)

	vouches, err := g.VouchesFrom(observer)
	if err != nil {
		return 0, nil, err
	}

	// Direct edge wins outright, undecayed.
	for _, v := range vouches {
		if v.Target == target {
			return v.Weight, []crypto.Digest{target}, nil
		}
	}

	var (
		best     float64
		bestPath []crypto.Digest
	)
	for _, v := range vouches {
		if v.Weight <= 0 {
			// A non-positive edge cannot begin a useful transitive path:
			// sub-scores are clamped non-negative, so the product could
			// only be <= 0.
			continue
		}
		sub, subPath, err := e.trustPath(g, v.Target, target, maxHops-1, visited, wantPath)
		if err != nil {
			return 0, nil, err
		}
		score := v.Weight * e.decay * clamp01(sub)
		if score > best {
			best = score
			if wantPath {
				bestPath = append([]crypto.Digest{v.Target}, subPath...)
			}
		}
	}
	return best, bestPath, nil
}

// Groundedness estimates the confidence that a record traces back to cited
// sources rather than being a floating assertion, in [0, 1].
//
// Empty provenance yields the fixed base value. Otherwise the score is the
// mean of the referenced records' groundedness plus a small logarithmic
// bonus for breadth: multiple independent sources corroborate more than
// one long chain. Unknown references and exhausted depth degrade to the
// base value; groundedness never fails.
func (e *Engine) Groundedness(g Graph, id crypto.Digest, maxDepth int) (float64, error) {
	if maxDepth <= 0 {
		maxDepth = e.maxDepth
	}
	return e.groundedness(g, id, maxDepth, map[crypto.Digest]bool{})
}

func (e *Engine) groundedness(g Graph, id crypto.Digest, depth int, visited map[crypto.Digest]bool) (float64, error) {
	if depth <= 0 || visited[id] {
		return e.base, nil
	}
	visited[id] = true
	defer delete(visited, id)

	prov, known, err := g.ProvenanceOf(id)
	if err != nil {
		return 0, err
	}
	if !known || len(prov) == 0 {
		return e.base, nil
	}

	var sum float64
	for _, ref := range prov {
		s, err := e.groundedness(g, ref, depth-1, visited)
		if err != nil {
			return 0, err
		}
		sum += s
	}
	score := sum/float64(len(prov)) + e.breadthBonus*math.Log1p(float64(len(prov)))
	return clamp01(score), nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
