package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/drblury/snsbridge/internal/runtime/config"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
)

// Factory abstracts how the bridge initialises its backend.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in factory selecting on Config.Backend.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (Transport, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch strings.ToLower(conf.Backend) {
	case config.BackendAWS, "":
		tr, err := NewAWSTransport(ctx, conf, logger)
		if err != nil {
			return nil, err
		}
		return tr, nil
	case config.BackendMemory:
		tr, err := NewMemoryTransport(MemoryOptions{
			Region:    conf.AWSRegion,
			AccountID: conf.AWSAccountID,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownBackend, conf.Backend)
	}
}
