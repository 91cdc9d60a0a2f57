// Package exchangerate copies the latest FX rate for a currency pair into S/4HANA.
package exchangerate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/canyapan/fxsync/internal/fx"
)

// RateSource returns the latest rate for a currency pair.
type RateSource interface {
	Rate(ctx context.Context, base, target string) (fx.ExchangeRate, error)
}

// RateSink persists an exchange rate.
type RateSink interface {
	SendExchangeRate(ctx context.Context, rate fx.ExchangeRate) error
}

// Service syncs exchange rates from a RateSource to a RateSink.
type Service struct {
	source RateSource
	sink   RateSink
}

// NewService creates a Service.
func NewService(source RateSource, sink RateSink) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("missing rate source")
	}
	if sink == nil {
		return nil, fmt.Errorf("missing rate sink")
	}
	return &Service{source: source, sink: sink}, nil
}

// UpdateRate fetches the latest base/target rate and writes it to the sink.
// It returns the sync ID attached to the log records of this run.
func (s *Service) UpdateRate(ctx context.Context, base, target string) (string, error) {
	syncID := uuid.NewString()
	base, target = strings.ToUpper(base), strings.ToUpper(target)
	logger := slog.With("sync_id", syncID, "base", base, "target", target)

	rate, err := s.source.Rate(ctx, base, target)
	if err != nil {
		logger.ErrorContext(ctx, "fetching exchange rate failed", "error", err)
		return syncID, fmt.Errorf("fetching %s/%s rate: %w", base, target, err)
	}
	logger.DebugContext(ctx, "exchange rate fetched", "mid", rate.Mid.String(), "date", rate.Date)

	if err := s.sink.SendExchangeRate(ctx, rate); err != nil {
		logger.ErrorContext(ctx, "sending exchange rate failed", "error", err)
		return syncID, fmt.Errorf("sending %s/%s rate: %w", base, target, err)
	}

	logger.InfoContext(ctx, "exchange rate synced", "mid", rate.Mid.String())
	return syncID, nil
}
