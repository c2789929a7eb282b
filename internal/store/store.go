package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gudangku/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicateProduct = errors.New("product code already exists")
)

// DuplicateBatchError reports a (product code, batch id) collision among
// non-deleted batches. Batch ids are unique per product, not globally.
type DuplicateBatchError struct {
	ProductCode string
	BatchID     string
}

func (e *DuplicateBatchError) Error() string {
	return fmt.Sprintf("batch %q already exists for product %q", e.BatchID, e.ProductCode)
}

// InsufficientStockError reports that the requested quantity exceeds the
// aggregate available stock. Both figures are carried so the caller can
// surface them for user correction.
type InsufficientStockError struct {
	ProductCode string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q: requested %d, available %d", e.ProductCode, e.Requested, e.Available)
}

// InsufficientBatchStockError is the low-level deduction guard: a batch had
// fewer units than the walk tried to take. Under correct locking it never
// surfaces; when it does it is treated as a consistency failure.
type InsufficientBatchStockError struct {
	BatchID   string
	Requested int
	Remaining int
}

func (e *InsufficientBatchStockError) Error() string {
	return fmt.Sprintf("batch %q has %d units, cannot deduct %d", e.BatchID, e.Remaining, e.Requested)
}

// AllocationConsistencyError means the engine's aggregate check and its FIFO
// walk disagreed. The transaction is always rolled back completely; the
// caller sees a generic failure, never partial state.
type AllocationConsistencyError struct {
	ProductCode string
	Unfulfilled int
}

func (e *AllocationConsistencyError) Error() string {
	return fmt.Sprintf("allocation inconsistency for product %q: %d units unfulfilled after FIFO walk", e.ProductCode, e.Unfulfilled)
}

// Repository is the persistence contract shared by the Postgres store and
// the in-memory store. Every multi-row operation (AllocateSale,
// ReallocateSale, ReverseSale) is atomic: it either fully commits or leaves
// no trace.
type Repository interface {
	// Catalog.
	ListProducts(ctx context.Context) ([]domain.ProductWithBatches, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// GetActiveProductByCode is the resolveActiveProduct gate: it fails with
	// ErrNotFound when the code is unknown or tombstoned. Pure read.
	GetActiveProductByCode(ctx context.Context, code string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, code string, req domain.ProductUpdateRequest) (*domain.Product, error)
	SoftDeleteProduct(ctx context.Context, code string, at time.Time) (*domain.Product, error)

	// Batch ledger.
	RecordPurchase(ctx context.Context, batch domain.PurchaseBatch) (*domain.PurchaseBatch, error)
	ListPurchases(ctx context.Context, productCode string) ([]domain.PurchaseBatch, error)
	// ListEligibleBatchesFIFO returns batches with remaining units, oldest
	// purchase date first, ties broken by batch id ascending. This ordering
	// is the FIFO contract and is deterministic for identical inputs.
	ListEligibleBatchesFIFO(ctx context.Context, productCode string) ([]domain.BatchStock, error)
	UpdatePurchase(ctx context.Context, purchaseID string, req domain.PurchaseUpdateRequest) (*domain.PurchaseBatch, error)
	SoftDeletePurchase(ctx context.Context, purchaseID string, at time.Time) (*domain.PurchaseBatch, error)

	// Allocation engine.
	AllocateSale(ctx context.Context, sale domain.Sale) (*domain.SaleResult, error)
	ReallocateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (*domain.SaleResult, error)
	ReverseSale(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error)
	ListSales(ctx context.Context, productCode string) ([]domain.SaleResult, error)
	GetSale(ctx context.Context, saleID string) (*domain.SaleResult, error)

	// Inventory query layer (derived, read-only).
	ProductStock(ctx context.Context, productCode string) (*domain.ProductStock, error)
	StockReport(ctx context.Context) (*domain.StockReport, error)

	// Auth accounts.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
