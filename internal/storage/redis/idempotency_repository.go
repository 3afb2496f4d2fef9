// Package redis хранит ключи идемпотентности в Redis: TTL ключа совпадает
// с TTL записи, поэтому просроченные ключи удаляет сам Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

const (
	keyPrefix  = "shawlshop:idempotency:"
	scanCount  = 100
	opTimeout  = 2 * time.Second
	defaultTTL = 24 * time.Hour
	minTTL     = time.Millisecond
)

type record struct {
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	ResponseCode int       `json:"response_code"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func fromDomain(r domain.IdempotencyRecord) record {
	return record{
		Key:          r.Key,
		RequestHash:  r.RequestHash,
		ResponseBody: r.ResponseBody,
		ResponseCode: r.ResponseCode,
		Status:       string(r.Status),
		TTLAt:        r.TTLAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (r record) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          r.Key,
		RequestHash:  r.RequestHash,
		ResponseBody: append([]byte(nil), r.ResponseBody...),
		ResponseCode: r.ResponseCode,
		Status:       domain.IdempotencyStatus(r.Status),
		TTLAt:        r.TTLAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// IdempotencyRepository: реализация domain.IdempotencyRepository поверх Redis.
type IdempotencyRepository struct {
	client goredis.UniversalClient
}

// Open подключается к Redis по адресу host:port или redis:// URL и проверяет соединение.
func Open(ctx context.Context, addr string) (*IdempotencyRepository, error) {
	opts := &goredis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewIdempotencyRepository(client), nil
}

// NewIdempotencyRepository оборачивает готовый клиент.
func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{client: client}
}

// Ping проверяет доступность Redis для health-check.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (r *IdempotencyRepository) Close() error {
	return r.client.Close()
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := json.Marshal(fromDomain(rec))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := r.client.SetNX(ctx, keyPrefix+key, data, ttlUntil(ttlAt, now)).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if created {
		return rec, nil
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	out := rec.toDomain()
	if !out.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", rec.Status, key)
	}
	return out, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не делает: Redis сам удаляет ключи по TTL.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, _ time.Time, _ int) (int, error) {
	return 0, ctx.Err()
}

// Release удаляет ключ в статусе processing; отсутствующий ключ не ошибка.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	current, err := r.Get(ctx, key)
	if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.Status != domain.IdempotencyStatusProcessing {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, keyPrefix+current.Key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// ReleaseStale обходит ключи через SCAN: индекса по статусу в Redis нет.
func (r *IdempotencyRepository) ReleaseStale(ctx context.Context, startedBefore time.Time, limit int) (int, error) {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", scanCount).Iterator()

	released := 0
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), keyPrefix)
		current, err := r.Get(ctx, key)
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		if current.Status != domain.IdempotencyStatusProcessing || current.CreatedAt.After(startedBefore) {
			continue
		}

		if err := r.Release(ctx, key); err != nil {
			return released, err
		}
		released++
		if limit > 0 && released >= limit {
			return released, nil
		}
	}
	if err := iter.Err(); err != nil {
		return released, fmt.Errorf("scan idempotency keys: %w", err)
	}
	return released, nil
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	current, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	current.Status = status
	current.ResponseBody = append([]byte(nil), responseBody...)
	current.ResponseCode = httpStatus
	current.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(fromDomain(current))
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// XX + KEEPTTL: обновляем только существующий ключ и сохраняем его срок жизни.
	err = r.client.SetArgs(ctx, keyPrefix+current.Key, data, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.ErrIdempotencyKeyNotFound
		}
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	return nil
}

func ttlUntil(ttlAt, now time.Time) time.Duration {
	ttl := ttlAt.Sub(now)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
