package memory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/vector"
)

// DecayOptions configure the periodic memory decay pass.
type DecayOptions struct {
	Rate           int
	PruneThreshold int
}

// Decayer ages summaries by lowering their active score and prunes those
// that fell below the threshold. Recall reinforcement works against it, so
// memories that keep getting retrieved survive.
type Decayer struct {
	store  *Store
	index  vector.Index
	opts   DecayOptions
	logger zerolog.Logger
}

// NewDecayer creates a decayer.
func NewDecayer(store *Store, index vector.Index, opts DecayOptions, logger zerolog.Logger) *Decayer {
	return &Decayer{
		store:  store,
		index:  index,
		opts:   opts,
		logger: logger.With().Str("component", "decayer").Logger(),
	}
}

// Run applies one decay tick and prunes expired summaries. Prune failures
// are logged and skipped rather than propagated: a summary that fails to
// prune today is picked up by the next tick.
func (d *Decayer) Run(ctx context.Context) (int, error) {
	if d.opts.Rate <= 0 {
		return 0, nil
	}
	if err := d.store.DecayActiveScores(ctx, d.opts.Rate); err != nil {
		return 0, err
	}

	ids, err := d.store.SummaryIDsBelowScore(ctx, d.opts.PruneThreshold)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		if err := d.index.Delete(ctx, id); err != nil {
			d.logger.Warn().Err(err).Str("id", shortID(id)).Msg("Failed to prune vector entry")
			continue
		}
		if err := d.store.DeleteSummary(ctx, id); err != nil {
			d.logger.Warn().Err(err).Str("id", shortID(id)).Msg("Failed to prune summary")
			continue
		}
		pruned++
	}

	if pruned > 0 {
		d.logger.Info().Int("pruned", pruned).Msg("Expired memories pruned")
	}
	return pruned, nil
}
