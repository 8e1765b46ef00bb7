package session

import (
	"fmt"

	"github.com/pthm-cable/wavefield/config"
	"github.com/pthm-cable/wavefield/observer"
)

// NewSource builds the observer trajectory named by cfg.Kind. A live source
// starts at the origin until its owner calls Set.
func NewSource(cfg config.TrajectoryConfig) (observer.Source, error) {
	switch cfg.Kind {
	case "scripted":
		return observer.Scripted{
			Amplitude: cfg.Amplitude,
			RateX:     cfg.RateX,
			RateY:     cfg.RateY,
		}, nil
	case "wander":
		return observer.NewWander(cfg.WanderSeed, cfg.Amplitude, cfg.WanderSpeed), nil
	case "replay":
		r, err := observer.LoadReplay(cfg.TrackPath)
		if err != nil {
			return nil, fmt.Errorf("loading replay track: %w", err)
		}
		return r, nil
	case "live":
		return &observer.Live{}, nil
	default:
		return nil, fmt.Errorf("unknown trajectory kind %q", cfg.Kind)
	}
}
