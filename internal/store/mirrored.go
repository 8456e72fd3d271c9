package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/i474232898/weather-history/internal/weather"
)

// Mirrored reads from the primary store and falls back to the secondary,
// copying secondary hits back into the primary. Writes go to both.
type Mirrored struct {
	primary   weather.RawStore
	secondary weather.RawStore
	log       zerolog.Logger
}

// NewMirrored creates a Mirrored store.
func NewMirrored(primary, secondary weather.RawStore, logger zerolog.Logger) *Mirrored {
	return &Mirrored{
		primary:   primary,
		secondary: secondary,
		log:       logger.With().Str("component", "raw-store").Logger(),
	}
}

func (m *Mirrored) Get(ctx context.Context, seg weather.Segment) ([]byte, bool, error) {
	body, ok, err := m.primary.Get(ctx, seg)
	if err == nil && ok {
		return body, true, nil
	}
	if err != nil {
		m.log.Warn().Err(err).Str("segment", seg.Key()).Msg("store: primary read failed; trying mirror")
	}

	body, ok, serr := m.secondary.Get(ctx, seg)
	if serr != nil {
		return nil, false, errors.Join(err, serr)
	}
	if !ok {
		return nil, false, err
	}

	if perr := m.primary.Put(ctx, seg, body); perr != nil {
		m.log.Warn().Err(perr).Str("segment", seg.Key()).Msg("store: backfill from mirror failed")
	}
	return body, true, nil
}

func (m *Mirrored) Put(ctx context.Context, seg weather.Segment, body []byte) error {
	return errors.Join(m.primary.Put(ctx, seg, body), m.secondary.Put(ctx, seg, body))
}
