package orders

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

// RetryConfig задаёт повторы при конфликте версий заказа.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// retryOnConflict повторяет fn, пока Save отвечает конфликтом версий.
// Любая другая ошибка возвращается сразу.
func retryOnConflict(ctx context.Context, cfg RetryConfig, logger *log.Entry, orderID string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.WithFields(log.Fields{
					"order_id": orderID,
					"attempt":  attempt,
				}).Info("status update succeeded after retry")
			}
			return nil
		}
		if !errors.Is(err, domain.ErrOrderVersionConflict) {
			return err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
			"delay":    delay,
		}).Warn("order version conflict, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.WithFields(log.Fields{
		"order_id":     orderID,
		"max_attempts": cfg.MaxAttempts,
	}).WithError(lastErr).Error("status update failed after all retry attempts")
	return lastErr
}
