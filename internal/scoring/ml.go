package scoring

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/models"
)

// mlWeights is the on-disk artifact shape for the lightweight logistic model
// scored over the fixed [amount_zar, channel_ordinal, hour_of_day_utc,
// international_flag] feature vector (§4.4). The ordering of Weights must
// match that vector exactly.
type mlWeights struct {
	Weights [4]float64 `json:"weights"`
	Bias    float64    `json:"bias"`
	Version string     `json:"version"`
}

// MLAdapter is a load-once, fail-soft signal: a missing artifact, a
// disabled config flag, or an inference panic all degrade to an absent
// score logged at warning, never to a scoring failure, behind the exact
// feature contract in §4.4.
type MLAdapter struct {
	cfg      configs.MLConfig
	loadOnce sync.Once
	weights  *mlWeights
	loadErr  error
}

// NewMLAdapter creates a new ML adapter. The artifact is not read until the
// first Compute call.
func NewMLAdapter(cfg configs.MLConfig) *MLAdapter {
	return &MLAdapter{cfg: cfg}
}

func (m *MLAdapter) Name() string { return "ml" }

// Compute scores a transaction through the loaded model. Any failure to
// load or run the model — including a recovered panic from a malformed
// artifact — is logged at warning and reported as SignalResult{Present:
// false}, never as an error.
func (m *MLAdapter) Compute(ctx context.Context, tx *models.Transaction) (result SignalResult, err error) {
	if !m.cfg.Enabled {
		log.Warn().Msg("ml: adapter disabled, scoring without ml signal")
		return SignalResult{Present: false}, nil
	}

	m.loadOnce.Do(m.load)
	if m.loadErr != nil {
		log.Warn().Err(m.loadErr).Msg("ml: model unavailable, scoring without ml signal")
		return SignalResult{Present: false}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("ml: inference panicked, scoring without ml signal")
			result, err = SignalResult{Present: false}, nil
		}
	}()

	features := featureVector(tx)
	score := m.infer(features)

	return SignalResult{Score: score, Present: true, Detail: features}, nil
}

func (m *MLAdapter) load() {
	if m.cfg.ModelPath == "" {
		m.loadErr = errModelPathEmpty
		return
	}

	raw, err := os.ReadFile(m.cfg.ModelPath)
	if err != nil {
		m.loadErr = err
		return
	}

	var w mlWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		m.loadErr = err
		return
	}
	m.weights = &w
}

// infer runs a single logistic-regression pass and clamps the output to
// [0,1], as required of every scoring signal (§4.4).
func (m *MLAdapter) infer(features [4]float64) float64 {
	z := m.weights.Bias
	for i, f := range features {
		z += m.weights.Weights[i] * f
	}
	score := 1 / (1 + math.Exp(-z))
	return math.Max(0, math.Min(1, score))
}

// featureVector builds the exact four-feature vector the model was trained
// against: amount in ZAR, the fixed channel ordinal, the UTC hour of day,
// and a 0/1 international flag derived from currency.
func featureVector(tx *models.Transaction) [4]float64 {
	international := 0.0
	if tx.Currency != "" && tx.Currency != "ZAR" {
		international = 1.0
	}

	return [4]float64{
		tx.AmountZAR,
		models.ChannelOrdinal[tx.Channel],
		float64(tx.CreatedAt.UTC().Hour()),
		international,
	}
}

var errModelPathEmpty = mlConfigError("ml: ML_ENABLED is true but ML_MODEL_PATH is empty")

type mlConfigError string

func (e mlConfigError) Error() string { return string(e) }
