package service

import (
	"context"
	"github.com/rs/zerolog"
	"time"
)

// Loop is a periodic background task. A failing tick is logged and the next one runs as scheduled.
type Loop struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// RunLoop blocks until ctx is done.
func RunLoop(ctx context.Context, loop Loop) error {
	log := zerolog.Ctx(ctx).With().Str("loop", loop.Name).Logger()
	ctx = log.WithContext(ctx)

	ticker := time.NewTicker(loop.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", loop.Interval).Msg("loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("loop stopped")
			return nil
		case <-ticker.C:
			runTick(ctx, loop)
		}
	}
}

func runTick(ctx context.Context, loop Loop) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("loop tick panicked")
		}
	}()
	if err := loop.Run(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("loop tick failed")
	}
}
