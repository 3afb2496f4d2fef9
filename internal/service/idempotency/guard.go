// Package idempotency повторяет первый ответ на checkout с тем же
// Idempotency-Key и чистит просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

// DefaultTTL: сколько хранится ответ по ключу.
const DefaultTTL = 24 * time.Hour

// ErrInProgress: запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.New("request with the same idempotency key is already processing")

var idempotencyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shawlshop_idempotency_requests_total",
	Help: "Requests carrying an idempotency key grouped by outcome.",
}, []string{"outcome"})

// Outcome: ответ обработчика в терминах транспорта: HTTP-статус или gRPC-код.
type Outcome struct {
	Code   int
	Body   []byte
	Failed bool
}

// Handler выполняет запрос один раз и возвращает ответ для кеширования.
type Handler func(ctx context.Context) (Outcome, error)

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт время жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт логгер.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard оборачивает обработчик проверкой idempotency-key.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard. С nil-репозиторием ключи игнорируются.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "idempotency-guard"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// RequestHash считает отпечаток запроса в пределах scope (метод или маршрут).
func RequestHash(scope string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{':'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Do выполняет fn не более одного раза на ключ. Пустой ключ отключает проверку.
// Кешируется только Outcome; ошибка fn освобождает ключ для повтора.
// Второй результат сообщает, что ответ взят из кеша.
func (g *Guard) Do(ctx context.Context, key, requestHash string, fn Handler) (Outcome, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" || g == nil || g.repo == nil {
		out, err := fn(ctx)
		return out, false, err
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(key, record, err)
	}

	out, err := fn(ctx)
	if err != nil {
		// Ответ не сформирован: ключ освобождается, повтор выполнит запрос заново.
		g.release(ctx, key)
		idempotencyRequestsTotal.WithLabelValues("released").Inc()
		return Outcome{}, false, err
	}

	g.store(ctx, key, out, out.Failed)
	idempotencyRequestsTotal.WithLabelValues("executed").Inc()
	return out, false, nil
}

func (g *Guard) replay(key string, record domain.IdempotencyRecord, createErr error) (Outcome, bool, error) {
	entry := g.logger.WithField("idempotency_key", key)

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		idempotencyRequestsTotal.WithLabelValues("mismatch").Inc()
		return Outcome{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status == domain.IdempotencyStatusProcessing:
			idempotencyRequestsTotal.WithLabelValues("in_progress").Inc()
			return Outcome{}, false, ErrInProgress
		case record.Settled():
			idempotencyRequestsTotal.WithLabelValues("replayed").Inc()
			entry.WithField("status", record.Status).Debug("replaying cached response")
			return Outcome{
				Code:   record.ResponseCode,
				Body:   append([]byte(nil), record.ResponseBody...),
				Failed: record.Status == domain.IdempotencyStatusFailed,
			}, true, nil
		default:
			return Outcome{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		entry.WithError(createErr).Warn("failed to create idempotency record")
		return Outcome{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

func (g *Guard) store(ctx context.Context, key string, out Outcome, failed bool) {
	// Запрос мог быть отменён клиентом, а ответ всё равно нужно сохранить.
	ctx = context.WithoutCancel(ctx)

	var err error
	if failed {
		err = g.repo.MarkFailed(ctx, key, out.Body, out.Code)
	} else {
		err = g.repo.MarkDone(ctx, key, out.Body, out.Code)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}

func (g *Guard) release(ctx context.Context, key string) {
	if err := g.repo.Release(context.WithoutCancel(ctx), key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}
