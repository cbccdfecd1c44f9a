package service

import (
	"context"

	"github.com/nvr-ai/parking-occupancy/config"
	"github.com/nvr-ai/parking-occupancy/metrics"
	"github.com/nvr-ai/parking-occupancy/notify"
	"github.com/nvr-ai/parking-occupancy/store"
	"github.com/rs/zerolog"
)

// Open builds the service described by settings, opening the optional store
// and publisher. The returned function releases them.
//
// An unreachable broker only disables notifications; a store that cannot be
// opened is an error.
func Open(ctx context.Context, settings config.Settings, log zerolog.Logger, m *metrics.Metrics) (*OccupancyService, func(), error) {
	var st *store.Store
	if settings.Store.Enabled() {
		var err error
		st, err = store.Open(settings.Store)
		if err != nil {
			return nil, nil, err
		}
	}

	var pub *notify.Publisher
	if settings.Notify.Enabled() {
		var err error
		pub, err = notify.Connect(ctx, settings.Notify, log)
		if err != nil {
			log.Warn().Err(err).Msg("run notifications disabled")
			pub = nil
		}
	}

	release := func() {
		if pub != nil {
			pub.Close()
		}
		if st != nil {
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close store")
			}
		}
	}

	var publisher Publisher
	if pub != nil {
		publisher = pub
	}
	return NewOccupancyService(log, m, st, publisher), release, nil
}
