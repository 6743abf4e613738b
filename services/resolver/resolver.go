// Package resolver narrows a list of search candidates down to one match
// using a tiered strategy: exact name match, then a scored match above a
// strict threshold, then the best available candidate.
package resolver

import (
	"github.com/hbollon/go-edlib"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/normalize"
)

// UnknownScore marks a candidate whose source did not supply a score; one
// is computed from name similarity.
const UnknownScore = -1

const PerfectScore = 100

type Tier string

const (
	TierExact         Tier = "exact"
	TierStrict        Tier = "strict"
	TierBestAvailable Tier = "best_available"
)

type Candidate struct {
	ID     string
	Title  string
	Artist string

	// 0-100, or UnknownScore
	Score int

	// Source specific value carried through to the caller
	Payload interface{}
}

type Query struct {
	Artist string
	Title  string
}

type Match struct {
	Candidate     Candidate
	Index         int
	Tier          Tier
	LowConfidence bool
}

type Policy struct {
	Name string

	// A perfect score with a matching title wins before the threshold check
	TrustPerfectScore bool

	// Strict tier is skipped when StrictThreshold is 0
	StrictThreshold      int
	StrictRequiresArtist bool

	// Best-available tier: highest score >= FallbackThreshold, or the first
	// candidate in source order when FallbackFirst is set.
	FallbackThreshold int
	FallbackFirst     bool
	DisableFallback   bool
}

var (
	DefaultPolicy = Policy{
		Name:            "default",
		StrictThreshold: 90,
	}

	// ReleaseDatabasePolicy: perfect score with exact title, else exact
	// artist at >= 90, else anything at >= 85.
	ReleaseDatabasePolicy = Policy{
		Name:                 "release_database",
		TrustPerfectScore:    true,
		StrictThreshold:      90,
		StrictRequiresArtist: true,
		FallbackThreshold:    85,
	}

	// StoreTitlePolicy resolves a partial title against persisted albums.
	StoreTitlePolicy = Policy{
		Name:            "store_title",
		StrictThreshold: 95,
		FallbackFirst:   true,
	}

	// StreamingPolicy: exact artist+title, else the platform's first result.
	StreamingPolicy = Policy{
		Name:          "streaming",
		FallbackFirst: true,
	}
)

type Resolver struct {
	policy Policy
	log    clog.ICustomLog
}

func New(policy Policy, log clog.ICustomLog) *Resolver {
	if log == nil {
		log = clog.NewNoop()
	}

	return &Resolver{
		policy: policy,
		log:    log.With(zap.String("pkg", "resolver"), zap.String("policy", policy.Name)),
	}
}

// Resolve returns nil when no candidate qualifies.
func (r *Resolver) Resolve(q Query, candidates []Candidate) *Match {
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]Candidate, len(candidates))

	for i, c := range candidates {
		if c.Score < 0 {
			c.Score = Score(q, c)
		}

		scored[i] = c
	}

	m := r.pick(q, scored)
	if m == nil {
		return nil
	}

	m.LowConfidence = m.Tier == TierBestAvailable || (m.Tier != TierExact && len(scored) > 1)

	if m.LowConfidence {
		r.log.Warn("lower-confidence match",
			zap.String("queryArtist", q.Artist),
			zap.String("queryTitle", q.Title),
			zap.String("matchArtist", m.Candidate.Artist),
			zap.String("matchTitle", m.Candidate.Title),
			zap.Int("score", m.Candidate.Score),
			zap.String("tier", string(m.Tier)),
			zap.Int("candidates", len(scored)))
	}

	return m
}

func (r *Resolver) pick(q Query, cs []Candidate) *Match {
	for i, c := range cs {
		if titleMatches(q, c) && artistMatches(q, c) {
			return &Match{Candidate: c, Index: i, Tier: TierExact}
		}
	}

	if r.policy.TrustPerfectScore {
		for i, c := range cs {
			if c.Score >= PerfectScore && titleMatches(q, c) {
				return &Match{Candidate: c, Index: i, Tier: TierStrict}
			}
		}
	}

	if r.policy.StrictThreshold > 0 {
		if i := highest(cs, func(c Candidate) bool {
			if c.Score < r.policy.StrictThreshold {
				return false
			}

			return !r.policy.StrictRequiresArtist || artistMatches(q, c)
		}); i >= 0 {
			return &Match{Candidate: cs[i], Index: i, Tier: TierStrict}
		}
	}

	if r.policy.DisableFallback {
		return nil
	}

	if r.policy.FallbackFirst {
		return &Match{Candidate: cs[0], Index: 0, Tier: TierBestAvailable}
	}

	if i := highest(cs, func(c Candidate) bool {
		return c.Score >= r.policy.FallbackThreshold
	}); i >= 0 {
		return &Match{Candidate: cs[i], Index: i, Tier: TierBestAvailable}
	}

	return nil
}

// highest returns the index of the highest scoring candidate accepted by ok;
// ties go to the earlier candidate.
func highest(cs []Candidate, ok func(Candidate) bool) int {
	best := -1

	for i, c := range cs {
		if !ok(c) {
			continue
		}

		if best < 0 || c.Score > cs[best].Score {
			best = i
		}
	}

	return best
}

func titleMatches(q Query, c Candidate) bool {
	return normalize.EqualFold(q.Title, c.Title)
}

// artistMatches is true when the query carries no artist.
func artistMatches(q Query, c Candidate) bool {
	if q.Artist == "" {
		return true
	}

	return normalize.EqualFold(q.Artist, c.Artist)
}

// Score is the Jaro-Winkler similarity (0-100) of the comparison forms of
// title, averaged with artist similarity when the query has an artist.
func Score(q Query, c Candidate) int {
	s := similarity(q.Title, c.Title)

	if q.Artist != "" {
		s = (s + similarity(q.Artist, c.Artist)) / 2
	}

	return int(s*100 + 0.5)
}

func similarity(a, b string) float32 {
	na, nb := normalize.NormalizeForComparison(a), normalize.NormalizeForComparison(b)

	if na == nb {
		return 1
	}

	if na == "" || nb == "" {
		return 0
	}

	s, err := edlib.StringsSimilarity(na, nb, edlib.JaroWinkler)
	if err != nil {
		return 0
	}

	return s
}
