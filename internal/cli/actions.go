package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"metabert/internal/config"
	"metabert/internal/encoder"
	"metabert/internal/httpapi"
	"metabert/internal/run"
)

// Command actions are package variables so tests can stub them.
var (
	fnTrain   = train
	fnTest    = test
	fnServe   = serve
	fnInspect = inspect
)

const shutdownTimeout = 5 * time.Second

// setup builds the logger and the runner for s.
func setup(cfg *Config, s config.Config) (*run.Runner, zerolog.Logger, io.Closer, error) {
	logger, closer, err := newLogger(cfg.Err, s.LogLevel, s.LogFile)
	if err != nil {
		return nil, logger, closer, err
	}
	r, err := run.Build(s, &logger, nil)
	if err != nil {
		closer.Close()
		return nil, logger, nopCloser{}, err
	}
	httpapi.SetLogger(logger)
	if len(s.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, s.CORSOrigins, nil, nil)
	}
	return r, logger, closer, nil
}

func train(ctx context.Context, cfg *Config, s config.Config) error {
	r, logger, closer, err := setup(cfg, s)
	if err != nil {
		return err
	}
	defer closer.Close()
	err = serveWhile(ctx, s.Addr, r, logger, r.Run)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Warn().Int("step", r.Step()).Msg("training interrupted")
		err = nil
	}
	if err != nil {
		return err
	}
	return writeJSON(cfg.Out, r.Status())
}

func test(ctx context.Context, cfg *Config, s config.Config) error {
	r, logger, closer, err := setup(cfg, s)
	if err != nil {
		return err
	}
	defer closer.Close()
	res, err := r.Evaluate(ctx)
	if err != nil {
		return err
	}
	logger.Info().Float64("query_metric", res.QueryMetric).Float64("forgetting_metric", res.ForgettingMetric).Msg("meta-test finished")
	return writeJSON(cfg.Out, res)
}

func serve(ctx context.Context, cfg *Config, s config.Config) error {
	r, logger, closer, err := setup(cfg, s)
	if err != nil {
		return err
	}
	defer closer.Close()
	return serveWhile(ctx, s.Addr, r, logger, nil)
}

type inspection struct {
	Checkpoint  string         `json:"checkpoint"`
	Config      encoder.Config `json:"config"`
	Params      int            `json:"params"`
	SizeBytes   int64          `json:"size_bytes"`
	Fingerprint string         `json:"fingerprint"`
}

func inspect(cfg *Config, id string) error {
	enc, err := encoder.FromCheckpoint(id, 0)
	if err != nil {
		return err
	}
	return writeJSON(cfg.Out, inspection{
		Checkpoint:  id,
		Config:      enc.Config(),
		Params:      enc.NumParams(),
		SizeBytes:   enc.SizeBytes(),
		Fingerprint: fmt.Sprintf("%016x", enc.Fingerprint()),
	})
}

// serveWhile runs work and, when addr is set, the monitor API alongside it.
// The server shuts down once work returns or ctx is cancelled. A nil work
// serves until ctx is cancelled.
func serveWhile(ctx context.Context, addr string, svc httpapi.Service, logger zerolog.Logger, work func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: httpapi.NewMux(svc), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", addr).Msg("monitor listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Error().Err(err).Msg("graceful shutdown error")
			}
			return nil
		})
	}
	if work != nil {
		g.Go(func() error {
			defer cancel()
			return work(gctx)
		})
	} else if addr == "" {
		return nil
	}
	return g.Wait()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
