package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"inventoryhub/dashboard/internal/auth"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
)

// StockError rejects a removal larger than the product's current stock.
type StockError struct {
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("Cannot remove %d items. Only %d available in stock.", e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

const (
	recentTransactions = 5
	lowStockPreview    = 5
)

type Service struct {
	Products     *Resource[Product]
	Categories   *Resource[Category]
	Suppliers    *Resource[Supplier]
	Transactions *Resource[Transaction]
	Users        *Resource[auth.User]

	c   Doer
	log *slog.Logger
}

func New(c Doer, logger *slog.Logger) (*Service, error) {
	if c == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Products:     NewResource[Product](c, "/products"),
		Categories:   NewResource[Category](c, "/categories"),
		Suppliers:    NewResource[Supplier](c, "/suppliers"),
		Transactions: NewResource[Transaction](c, "/transactions"),
		Users:        NewResource[auth.User](c, "/users"),
		c:            c,
		log:          logger,
	}, nil
}

func (s *Service) LowStock(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := s.c.Do(ctx, http.MethodGet, "/products/low-stock", nil, &out); err != nil {
		return nil, fmt.Errorf("list low stock products: %w", err)
	}
	return out, nil
}

func (s *Service) ProductTransactions(ctx context.Context, productID int64) ([]Transaction, error) {
	var out []Transaction
	path := fmt.Sprintf("/transactions/product/%d", productID)
	if err := s.c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list transactions of product %d: %w", productID, err)
	}
	return out, nil
}

// RecordTransaction validates the input and, for removals, checks the
// current stock before submitting.
func (s *Service) RecordTransaction(ctx context.Context, in TransactionInput) (Transaction, error) {
	in.ActionType = strings.ToLower(strings.TrimSpace(in.ActionType))
	switch in.ActionType {
	case ActionAdd, ActionRemove, ActionUpdate:
	default:
		return Transaction{}, fmt.Errorf("%w: action_type must be add, remove or update", ErrInvalidInput)
	}
	if in.ProductID <= 0 {
		return Transaction{}, fmt.Errorf("%w: product_id is required", ErrInvalidInput)
	}
	if in.Quantity <= 0 {
		return Transaction{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}

	if in.ActionType == ActionRemove {
		p, err := s.Products.Get(ctx, in.ProductID)
		if err != nil {
			return Transaction{}, err
		}
		if in.Quantity > p.Quantity {
			return Transaction{}, &StockError{Requested: in.Quantity, Available: p.Quantity}
		}
	}

	tx, err := s.Transactions.Create(ctx, in)
	if err != nil {
		return Transaction{}, err
	}
	s.log.Info("transaction recorded", "product_id", in.ProductID, "action", in.ActionType, "quantity", in.Quantity)
	return tx, nil
}

// DashboardStats loads the four collections concurrently. Any failed fetch
// fails the whole overview.
func (s *Service) DashboardStats(ctx context.Context) (Stats, error) {
	var (
		products     []Product
		categories   []Category
		transactions []Transaction
		lowStock     []Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { products, err = s.Products.List(gctx); return })
	g.Go(func() (err error) { categories, err = s.Categories.List(gctx); return })
	g.Go(func() (err error) { transactions, err = s.Transactions.List(gctx); return })
	g.Go(func() (err error) { lowStock, err = s.LowStock(gctx); return })
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	st := Stats{
		TotalProducts:        len(products),
		LowStockCount:        len(lowStock),
		TotalCategories:      len(categories),
		RecentTransactions:   head(transactions, recentTransactions),
		LowStockProducts:     head(lowStock, lowStockPreview),
		CategoryDistribution: make([]CategoryCount, 0, len(categories)),
	}
	perCategory := make(map[int64]int, len(categories))
	for _, p := range products {
		st.TotalValue += p.Price * float64(p.Quantity)
		perCategory[p.categoryID()]++
	}
	for _, c := range categories {
		st.CategoryDistribution = append(st.CategoryDistribution, CategoryCount{Name: c.Name, Value: perCategory[c.ID]})
	}
	return st, nil
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[:n]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
