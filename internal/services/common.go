package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
)

// Logger receives structured service events. It is bridged to zap at wiring time.
type Logger func(ctx context.Context, event string, fields map[string]any)

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func defaultUnitOfWork(unit repositories.UnitOfWork) repositories.UnitOfWork {
	if unit == nil {
		return noopUnitOfWork{}
	}
	return unit
}

func defaultClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

func defaultIDGenerator(gen func() string) func() string {
	if gen != nil {
		return gen
	}
	return func() string {
		return ulid.Make().String()
	}
}

func defaultLogger(logger Logger) Logger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// mapRepositoryError converts repository failures into the caller's sentinels.
func mapRepositoryError(err error, notFound, conflict error, scope string) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict() && conflict != nil:
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%s: repository unavailable: %w", scope, err)
		}
	}
	return err
}

// verifyCharge compares a reported charge with the amount owed. An empty amount or
// currency is not checked.
func verifyCharge(cmd PaymentOutcomeCommand, owed decimal.Decimal, currency string) error {
	if !cmd.Amount.IsZero() && !domain.RoundMoney(cmd.Amount).Equal(domain.RoundMoney(owed)) {
		return fmt.Errorf("%w: charged %s, owed %s", ErrPaymentAmountMismatch, cmd.Amount, owed)
	}
	if charged := strings.TrimSpace(cmd.Currency); charged != "" && currency != "" && !strings.EqualFold(charged, currency) {
		return fmt.Errorf("%w: charged in %s, owed in %s", ErrPaymentAmountMismatch, charged, currency)
	}
	return nil
}

// Metrics records business counters. The Prometheus implementation lives in observability.
type Metrics interface {
	OrderCreated()
	PaymentOutcomeApplied(kind string, outcome PaymentOutcome, applied bool)
	HoldsExpired(kind string, count int)
	NotificationDropped(reason string)
	NotificationSent(sink string, err error)
}

type noopMetrics struct{}

func (noopMetrics) OrderCreated() {}
func (noopMetrics) PaymentOutcomeApplied(string, PaymentOutcome, bool) {}
func (noopMetrics) HoldsExpired(string, int) {}
func (noopMetrics) NotificationDropped(string) {}
func (noopMetrics) NotificationSent(string, error) {}

func defaultMetrics(metrics Metrics) Metrics {
	if metrics == nil {
		return noopMetrics{}
	}
	return metrics
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, Notification) {}

func defaultDispatcher(dispatcher NotificationDispatcher) NotificationDispatcher {
	if dispatcher == nil {
		return noopDispatcher{}
	}
	return dispatcher
}
