package services

import (
	"context"
	"fmt"
	"strings"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
)

type ProductService struct {
	deps *Deps
}

func NewProductService(deps *Deps) *ProductService {
	return &ProductService{deps: deps}
}

// Create lists a product. The price may not exceed the seller's selling power.
func (s *ProductService) Create(ctx context.Context, sellerID string, req models.CreateProductRequest) (*models.Product, error) {
	price := req.Price.Round(2)
	if !price.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	var product *models.Product
	err := s.deps.mutate(ctx, "product.create", func(ctx context.Context, tx Tx, j *journal) error {
		wallets, err := lockWallets(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		limit := wallets[sellerID].MaxSellableValue(s.deps.Economy.SellingPowerMultiplier)
		if price.GreaterThan(limit) {
			return fmt.Errorf("%w: price %s, max %s", models.ErrSellingCapacityExceeded, price, limit)
		}

		product = &models.Product{
			ID:          uuid.New().String(),
			SellerID:    sellerID,
			Title:       strings.TrimSpace(req.Title),
			Description: req.Description,
			Category:    req.Category,
			Price:       price,
			CreatedAt:   j.now,
		}
		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// Delete removes a product from the catalogue. Only its seller may delete it; orders
// already placed for it are unaffected.
func (s *ProductService) Delete(ctx context.Context, sellerID, productID string) error {
	product, err := s.deps.Store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if product.SellerID != sellerID {
		return models.ErrForbidden
	}
	return s.deps.mutate(ctx, "product.delete", func(ctx context.Context, tx Tx, j *journal) error {
		return tx.DeleteProduct(ctx, productID, j.now)
	})
}

func (s *ProductService) Get(ctx context.Context, productID string) (*models.Product, error) {
	return s.deps.Store.GetProduct(ctx, productID)
}

func (s *ProductService) List(ctx context.Context, category string) ([]models.Product, error) {
	return s.deps.Store.ListProducts(ctx, strings.TrimSpace(category))
}
