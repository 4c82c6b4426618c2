package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/config"
	"github.com/sells-group/gigasphere/internal/pipeline"
	"github.com/sells-group/gigasphere/internal/store"
)

// initStore opens the configured run store. The "none" driver returns a nil
// store, which disables run history.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverSQLite:
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "gigasphere.db"
		}
		st, err = store.NewSQLite(dsn)
	case config.DriverPostgres:
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// loadCanon reads the canon parts a command needs. A missing canon file is
// fatal before any input is read.
func loadCanon(parts canon.Part) (*canon.Canon, error) {
	c, err := canon.Load(cfg.Canon, parts)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("canon: loaded",
		zap.String("dir", cfg.Canon.Dir),
		zap.String("hash", c.Hash()),
		zap.Int("datasets", len(c.Datasets())),
	)
	return c, nil
}

// runEnv holds what a stage command needs for one invocation.
type runEnv struct {
	Runner *pipeline.Runner
	Store  store.Store
}

// Close releases the run store.
func (e *runEnv) Close() {
	if e.Store != nil {
		e.Store.Close() //nolint:errcheck
	}
}

// initRunner validates the config, loads the canon and opens the store.
func initRunner(ctx context.Context, parts canon.Part, xlsx bool) (*runEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}
	c, err := loadCanon(parts)
	if err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	return &runEnv{
		Runner: pipeline.NewRunner(c,
			pipeline.WithStore(st),
			pipeline.WithWorkers(cfg.Pipeline.Workers),
			pipeline.WithXLSX(xlsx),
		),
		Store: st,
	}, nil
}

// parseAsOf parses an as-of date flag. Empty yields the zero time.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(pipeline.AsOfLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid --as-of %q, want YYYY-MM-DD", s)
	}
	return t, nil
}
