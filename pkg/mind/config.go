package mind

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// RootRealm is the well-known root of the realm tree.
const RootRealm = "brahman"

// RelevanceWeights parameterizes soul-aware relevance:
// relevance = s·Similarity + effective_confidence·Confidence +
// recency_score·Recency + ε·Epsilon. The defaults sum to 1.
type RelevanceWeights struct {
	Similarity float64 `yaml:"similarity"`
	Confidence float64 `yaml:"confidence"`
	Recency    float64 `yaml:"recency"`
	Epsilon    float64 `yaml:"epsilon"`
}

// DefaultWeights returns the standard relevance mix.
func DefaultWeights() RelevanceWeights {
	return RelevanceWeights{
		Similarity: 0.55,
		Confidence: 0.20,
		Recency:    0.15,
		Epsilon:    0.10,
	}
}

// Config configures an engine instance.
type Config struct {
	// Path is the database base path; the engine derives the .unified,
	// .wal, .tags, .graph, .payloads, and .cold siblings from it.
	Path string

	// Dim is the vector dimension D. Ignored when opening an existing
	// database (the stored dimension wins); required when creating one
	// without an embedder.
	Dim int

	// Embedder handles text → vector. Optional; text operations fail
	// with ErrNoEmbedder without one.
	Embedder Embedder

	// Logger receives engine diagnostics. Defaults to NopLogger.
	Logger Logger

	// ReadOnly opens without replaying or writing anything, used for
	// inspecting snapshots.
	ReadOnly bool

	// Weights drives soul-aware relevance scoring.
	Weights RelevanceWeights

	// RRFRankConstant is the reciprocal-rank-fusion constant k.
	RRFRankConstant int

	// DenseWeight and SparseWeight balance the two channels in hybrid
	// fusion.
	DenseWeight  float64
	SparseWeight float64

	// RecencyHalfLifeDays controls how fast the recency score fades.
	RecencyHalfLifeDays float64

	// PruneThreshold removes nodes whose effective confidence falls
	// below it, protected types excepted.
	PruneThreshold float64

	// HebbianActivationFloor is the minimum activation for a node to
	// join the Hebbian co-activation set during resonate.
	HebbianActivationFloor float64

	// SpreadGamma is the per-hop activation decay factor.
	SpreadGamma float64

	// SettleIterations and SettleFraction drive attractor settling in
	// the maintenance cycle; SettleMaxShift caps per-call drift in
	// cosine terms. SettleIterations = 0 disables settling.
	SettleIterations int
	SettleFraction   float64
	SettleMaxShift   float64

	// WALBudget forces a snapshot when the log exceeds this size.
	WALBudget datasize.ByteSize

	// HotCapacityBytes and HotCapacityEntries bound the hot tier.
	HotCapacityBytes   datasize.ByteSize
	HotCapacityEntries int

	// ColdAfterDays ages unaccessed payloads into the cold archive.
	ColdAfterDays int

	// FeedbackQueueSize bounds the pending feedback queue; overflow
	// drops the oldest entries with a warning.
	FeedbackQueueSize int

	// MaxNodes is the global node quota; 0 means unlimited.
	MaxNodes uint64

	// MaxPerType caps individual node types; missing types are
	// unlimited.
	MaxPerType map[string]uint64

	// EfSearch is the ANN beam width at query time.
	EfSearch int

	// Clock supplies the current time, injectable for tests and
	// simulated-time maintenance.
	Clock func() time.Time
}

// DefaultConfig returns the standard engine configuration for a base
// path.
func DefaultConfig(path string) Config {
	return Config{
		Path:                   path,
		Dim:                    384,
		Logger:                 NopLogger(),
		Weights:                DefaultWeights(),
		RRFRankConstant:        60,
		DenseWeight:            0.7,
		SparseWeight:           0.3,
		RecencyHalfLifeDays:    7,
		PruneThreshold:         0.1,
		HebbianActivationFloor: 0.2,
		SpreadGamma:            0.7,
		SettleIterations:       2,
		SettleFraction:         0.05,
		SettleMaxShift:         0.02,
		WALBudget:              64 * datasize.MB,
		HotCapacityBytes:       64 * datasize.MB,
		HotCapacityEntries:     4096,
		ColdAfterDays:          14,
		FeedbackQueueSize:      1024,
		EfSearch:               64,
		Clock:                  time.Now,
	}
}

// Option is a functional option for Open.
type Option func(*Config)

// WithEmbedder attaches an embedder for text operations.
func WithEmbedder(e Embedder) Option {
	return func(c *Config) { c.Embedder = e }
}

// WithLogger attaches a logger.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock injects a time source, used by tests to simulate decay.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) { c.Clock = clock }
}

// WithReadOnly opens the database for inspection only.
func WithReadOnly() Option {
	return func(c *Config) { c.ReadOnly = true }
}

func (c *Config) fill() {
	if c.Logger == nil {
		c.Logger = NopLogger()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Weights == (RelevanceWeights{}) {
		c.Weights = DefaultWeights()
	}
	if c.RRFRankConstant == 0 {
		c.RRFRankConstant = 60
	}
	if c.DenseWeight == 0 && c.SparseWeight == 0 {
		c.DenseWeight, c.SparseWeight = 0.7, 0.3
	}
	if c.RecencyHalfLifeDays == 0 {
		c.RecencyHalfLifeDays = 7
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = 0.1
	}
	if c.HebbianActivationFloor == 0 {
		c.HebbianActivationFloor = 0.2
	}
	if c.SpreadGamma == 0 {
		c.SpreadGamma = 0.7
	}
	if c.EfSearch == 0 {
		c.EfSearch = 64
	}
	if c.FeedbackQueueSize == 0 {
		c.FeedbackQueueSize = 1024
	}
	if c.WALBudget == 0 {
		c.WALBudget = 64 * datasize.MB
	}
	if c.HotCapacityBytes == 0 {
		c.HotCapacityBytes = 64 * datasize.MB
	}
	if c.HotCapacityEntries == 0 {
		c.HotCapacityEntries = 4096
	}
	if c.ColdAfterDays == 0 {
		c.ColdAfterDays = 14
	}
	if c.Embedder != nil && c.Embedder.Dimensions() > 0 {
		c.Dim = c.Embedder.Dimensions()
	}
	if c.Dim == 0 {
		c.Dim = 384
	}
}
