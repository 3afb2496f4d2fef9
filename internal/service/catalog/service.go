// Package catalog, сценарии каталога: витрина и админские операции над товарами.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

const defaultListLimit = 100

// Service описывает операции над каталогом.
type Service interface {
	CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	AdjustInventory(ctx context.Context, id string, delta int) (domain.Product, error)
}

type service struct {
	repo   domain.CatalogRepository
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис каталога.
func NewService(repo domain.CatalogRepository, logger *log.Entry) Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.Title = strings.TrimSpace(product.Title)
	if problems := product.Validate(); len(problems) > 0 {
		return domain.Product{}, domain.NewValidationError(problems)
	}

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.repo.Create(ctx, product); err != nil {
		return domain.Product{}, fmt.Errorf("create product %s: %w", product.ID, err)
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"inventory":  product.Inventory,
		"published":  product.Published,
	}).Info("product created")
	return product, nil
}

func (s *service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if filter.Limit <= 0 || filter.Limit > defaultListLimit {
		filter.Limit = defaultListLimit
	}
	return s.repo.List(ctx, filter)
}

func (s *service) AdjustInventory(ctx context.Context, id string, delta int) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, domain.ErrProductNotFound
	}

	product, err := s.repo.AdjustInventory(ctx, id, delta)
	if err != nil {
		entry := s.logger.WithFields(log.Fields{"product_id": id, "delta": delta})
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrProductNotFound) {
			entry.WithError(err).Warn("inventory adjustment rejected")
		} else {
			entry.WithError(err).Error("inventory adjustment failed")
		}
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": id,
		"delta":      delta,
		"inventory":  product.Inventory,
	}).Info("inventory adjusted")
	return product, nil
}
