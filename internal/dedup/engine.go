package dedup

import "time"

const (
	MethodNone          = "none"
	MethodMinHash       = "minhash"
	MethodMinHashCosine = "minhash+tfidf"
)

// Config holds the duplicate policy.
type Config struct {
	ShingleSize   int
	NumHashes     int
	Threshold     float64
	EarlyExit     float64
	Window        time.Duration
	MaxCandidates int
}

func DefaultConfig() Config {
	return Config{
		ShingleSize:   3,
		NumHashes:     128,
		Threshold:     0.75,
		EarlyExit:     0.90,
		Window:        3 * 24 * time.Hour,
		MaxCandidates: 50,
	}
}

// Candidate is an existing canonical item considered for a duplicate match.
type Candidate struct {
	ID   string
	Text string
}

type Decision struct {
	Duplicate     bool
	DuplicateOfID string
	// Similarity is the final score: the best MinHash score, raised to the cosine score when verified.
	Similarity   float64
	MinHashScore float64
	CosineScore  *float64
	Candidates   int
	Compared     int
	Method       string
}

type Engine struct {
	cfg       Config
	signature func(string) Signature
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = def.ShingleSize
	}
	if cfg.NumHashes <= 0 {
		cfg.NumHashes = def.NumHashes
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.EarlyExit <= 0 {
		cfg.EarlyExit = def.EarlyExit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	return &Engine{cfg: cfg, signature: NewMinHasher(cfg.NumHashes, cfg.ShingleSize).Signature}
}

func (e *Engine) Config() Config { return e.cfg }

// IsDuplicate applies the threshold; the boundary value counts as a duplicate.
func (e *Engine) IsDuplicate(score float64) bool {
	return score >= e.cfg.Threshold
}

// Evaluate compares text against candidates, ordered most recent first. Ties keep the earlier candidate.
func (e *Engine) Evaluate(text string, candidates []Candidate) Decision {
	d := Decision{Candidates: len(candidates), Method: MethodNone}
	if len(candidates) == 0 {
		return d
	}

	sig := e.signature(text)
	d.Method = MethodMinHash

	best := -1
	for i, c := range candidates {
		d.Compared++
		score := Similarity(sig, e.signature(c.Text))
		if best < 0 || score > d.MinHashScore {
			best = i
			d.MinHashScore = score
		}
		if score > e.cfg.EarlyExit {
			break
		}
	}
	d.Similarity = d.MinHashScore

	if e.IsDuplicate(d.MinHashScore) {
		cos := Cosine(text, candidates[best].Text)
		d.CosineScore = &cos
		if cos > d.Similarity {
			d.Similarity = cos
			d.Method = MethodMinHashCosine
		}
	}

	if e.IsDuplicate(d.Similarity) {
		d.Duplicate = true
		d.DuplicateOfID = candidates[best].ID
	}
	return d
}
