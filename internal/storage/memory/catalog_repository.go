package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

type catalogRepositoryInMemory struct {
	store *Store
}

// NewCatalogRepository возвращает in-memory каталог поверх общего Store.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepositoryInMemory{store: store}
}

func (r *catalogRepositoryInMemory) Create(ctx context.Context, product domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.products[product.ID]; exists {
		return domain.ErrProductAlreadyExists
	}
	r.store.products[product.ID] = product
	return nil
}

func (r *catalogRepositoryInMemory) Get(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	product, ok := r.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *catalogRepositoryInMemory) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.store.products))
	for _, product := range r.store.products {
		if filter.PublishedOnly && !product.Published {
			continue
		}
		result = append(result, product)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *catalogRepositoryInMemory) ListInStock(ctx context.Context, ids []string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		product, ok := r.store.products[id]
		if !ok || !product.InStock() {
			continue
		}
		result = append(result, product)
	}
	return result, nil
}

func (r *catalogRepositoryInMemory) AdjustInventory(ctx context.Context, id string, delta int) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	product, ok := r.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if product.Inventory+delta < 0 {
		return domain.Product{}, domain.ErrInsufficientStock
	}

	product.Inventory += delta
	product.UpdatedAt = time.Now().UTC()
	r.store.products[id] = product
	return product, nil
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
