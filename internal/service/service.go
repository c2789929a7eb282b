// Package service holds the application rules in front of the repository:
// input normalization and validation, audit logging, cache invalidation,
// and the CSV export surface.
package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"gudangku/backend/internal/domain"
	"gudangku/backend/internal/report"
	"gudangku/backend/internal/store"
)

type contextKey string

const actorContextKey contextKey = "actor"

// WithActor attaches the authenticated caller to the context for audit
// logging on mutations.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) domain.Actor {
	actor, ok := ctx.Value(actorContextKey).(domain.Actor)
	if !ok {
		return domain.Actor{Username: "system", Role: domain.RoleAdmin}
	}
	return actor
}

type Service struct {
	repo    store.Repository
	reports *report.Engine
}

func New(repo store.Repository, reports *report.Engine) *Service {
	return &Service{repo: repo, reports: reports}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func parseDate(field string, value string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be formatted YYYY-MM-DD", store.ErrInvalidInput, field)
	}
	return parsed, nil
}

// mapAllocationError hides the low-level deduction guard from callers. If it
// fires despite the locking, the caller should see a consistency failure,
// not a stock shortage it could retry around.
func mapAllocationError(productCode string, err error) error {
	var batchErr *store.InsufficientBatchStockError
	if errors.As(err, &batchErr) {
		log.Printf("allocation guard tripped for product %s: %v", productCode, batchErr)
		return &store.AllocationConsistencyError{ProductCode: productCode, Unfulfilled: batchErr.Requested}
	}
	return err
}

// ---- products ----

func (s *Service) ListProducts(ctx context.Context) ([]domain.ProductWithBatches, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", store.ErrInvalidInput)
	}
	if req.CurrentPrice.IsNegative() {
		return nil, fmt.Errorf("%w: current_price must not be negative", store.ErrInvalidInput)
	}

	product, err := s.repo.CreateProduct(ctx, domain.Product{
		Code:         code,
		Description:  strings.TrimSpace(req.Description),
		Brand:        strings.TrimSpace(req.Brand),
		Size:         strings.TrimSpace(req.Size),
		CurrentPrice: req.CurrentPrice,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("product %s created by %s", product.Code, ActorFromContext(ctx).Username)
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, code string) (*domain.Product, error) {
	return s.repo.GetActiveProductByCode(ctx, normalizeCode(code))
}

func (s *Service) UpdateProduct(ctx context.Context, code string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	code = normalizeCode(code)
	if req.Code != nil {
		renamed := normalizeCode(*req.Code)
		if renamed == "" {
			return nil, fmt.Errorf("%w: code must not be empty", store.ErrInvalidInput)
		}
		req.Code = &renamed
	}

	product, err := s.repo.UpdateProduct(ctx, code, req)
	if err != nil {
		return nil, err
	}

	s.reports.Invalidate(ctx, code, product.Code)
	log.Printf("product %s updated by %s", product.Code, ActorFromContext(ctx).Username)
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, code string) (*domain.Product, error) {
	code = normalizeCode(code)
	product, err := s.repo.SoftDeleteProduct(ctx, code, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.reports.Invalidate(ctx, code)
	log.Printf("product %s deleted by %s", product.Code, ActorFromContext(ctx).Username)
	return product, nil
}

// ---- purchases ----

func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (*domain.PurchaseBatch, error) {
	code := normalizeCode(req.ProductCode)
	batchID := strings.TrimSpace(req.BatchID)
	switch {
	case code == "":
		return nil, fmt.Errorf("%w: product_code is required", store.ErrInvalidInput)
	case batchID == "":
		return nil, fmt.Errorf("%w: batch_id is required", store.ErrInvalidInput)
	case req.Quantity < 1:
		return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrInvalidInput)
	case req.UnitCost.IsNegative():
		return nil, fmt.Errorf("%w: unit_cost must not be negative", store.ErrInvalidInput)
	}
	purchaseDate, err := parseDate("purchase_date", req.PurchaseDate)
	if err != nil {
		return nil, err
	}

	batch, err := s.repo.RecordPurchase(ctx, domain.PurchaseBatch{
		ProductCode:  code,
		BatchID:      batchID,
		OriginalQty:  req.Quantity,
		UnitCost:     req.UnitCost,
		PurchaseDate: purchaseDate,
	})
	if err != nil {
		return nil, err
	}

	s.reports.Invalidate(ctx, code)
	log.Printf("purchase %s recorded for product %s by %s", batch.BatchID, code, ActorFromContext(ctx).Username)
	return batch, nil
}

func (s *Service) ListPurchases(ctx context.Context, productCode string) ([]domain.PurchaseBatch, error) {
	return s.repo.ListPurchases(ctx, normalizeCode(productCode))
}

func (s *Service) UpdatePurchase(ctx context.Context, purchaseID string, req domain.PurchaseUpdateRequest) (*domain.PurchaseBatch, error) {
	if req.BatchID != nil {
		trimmed := strings.TrimSpace(*req.BatchID)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: batch_id must not be empty", store.ErrInvalidInput)
		}
		req.BatchID = &trimmed
	}

	batch, err := s.repo.UpdatePurchase(ctx, strings.TrimSpace(purchaseID), req)
	if err != nil {
		return nil, err
	}

	s.reports.Invalidate(ctx, batch.ProductCode)
	log.Printf("purchase %s updated by %s", batch.ID, ActorFromContext(ctx).Username)
	return batch, nil
}

func (s *Service) DeletePurchase(ctx context.Context, purchaseID string) (*domain.PurchaseBatch, error) {
	batch, err := s.repo.SoftDeletePurchase(ctx, strings.TrimSpace(purchaseID), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.reports.Invalidate(ctx, batch.ProductCode)
	log.Printf("purchase %s deleted by %s", batch.ID, ActorFromContext(ctx).Username)
	return batch, nil
}

// ---- sales ----

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.SaleResult, error) {
	code := normalizeCode(req.ProductCode)
	switch {
	case code == "":
		return nil, fmt.Errorf("%w: product_code is required", store.ErrInvalidInput)
	case req.Quantity < 1:
		return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrInvalidInput)
	case req.UnitPrice.IsNegative():
		return nil, fmt.Errorf("%w: unit_price must not be negative", store.ErrInvalidInput)
	}
	saleDate, err := parseDate("sale_date", req.SaleDate)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.AllocateSale(ctx, domain.Sale{
		ProductCode: code,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		SaleDate:    saleDate,
	})
	if err != nil {
		return nil, mapAllocationError(code, err)
	}

	s.reports.Invalidate(ctx, code)
	log.Printf("sale %s allocated %d units of %s across %d batches by %s",
		result.Sale.ID, result.Sale.Quantity, code, len(result.Allocations), ActorFromContext(ctx).Username)
	return result, nil
}

func (s *Service) UpdateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (*domain.SaleResult, error) {
	if req.Quantity != nil && *req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrInvalidInput)
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit_price must not be negative", store.ErrInvalidInput)
	}

	saleID = strings.TrimSpace(saleID)
	result, err := s.repo.ReallocateSale(ctx, saleID, req)
	if err != nil {
		// The failed edit left the sale untouched, so its product code is
		// still readable for the defect log line.
		code := ""
		if current, lookupErr := s.repo.GetSale(ctx, saleID); lookupErr == nil {
			code = current.Sale.ProductCode
		}
		return nil, mapAllocationError(code, err)
	}

	s.reports.Invalidate(ctx, result.Sale.ProductCode)
	log.Printf("sale %s re-allocated by %s", result.Sale.ID, ActorFromContext(ctx).Username)
	return result, nil
}

func (s *Service) DeleteSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.repo.ReverseSale(ctx, strings.TrimSpace(saleID), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.reports.Invalidate(ctx, sale.ProductCode)
	log.Printf("sale %s reversed by %s", sale.ID, ActorFromContext(ctx).Username)
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, productCode string) ([]domain.SaleResult, error) {
	return s.repo.ListSales(ctx, normalizeCode(productCode))
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.SaleResult, error) {
	return s.repo.GetSale(ctx, strings.TrimSpace(saleID))
}

// ---- stock views ----

func (s *Service) ProductStock(ctx context.Context, productCode string) (*domain.ProductStock, error) {
	code := normalizeCode(productCode)
	if code == "" {
		return nil, fmt.Errorf("%w: product code is required", store.ErrInvalidInput)
	}
	return s.reports.ProductStock(ctx, code)
}

func (s *Service) StockReport(ctx context.Context) (*domain.StockReport, error) {
	return s.reports.StockReport(ctx)
}

// ---- CSV export ----

// ExportCSV renders one entity's active rows as CSV, returning the payload
// and a dated filename.
func (s *Service) ExportCSV(ctx context.Context, entity string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	switch entity {
	case domain.ExportProducts:
		products, err := s.repo.ListProducts(ctx)
		if err != nil {
			return nil, "", err
		}
		_ = w.Write([]string{"code", "description", "brand", "size", "current_price", "created_at"})
		for _, p := range products {
			_ = w.Write([]string{
				p.Code, p.Description, p.Brand, p.Size,
				p.CurrentPrice.StringFixed(2),
				p.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
	case domain.ExportPurchases:
		purchases, err := s.repo.ListPurchases(ctx, "")
		if err != nil {
			return nil, "", err
		}
		_ = w.Write([]string{"product_code", "batch_id", "original_qty", "remaining_qty", "unit_cost", "purchase_date"})
		for _, b := range purchases {
			_ = w.Write([]string{
				b.ProductCode, b.BatchID,
				strconv.Itoa(b.OriginalQty), strconv.Itoa(b.RemainingQty),
				b.UnitCost.StringFixed(2),
				b.PurchaseDate.UTC().Format("2006-01-02"),
			})
		}
	case domain.ExportSales:
		sales, err := s.repo.ListSales(ctx, "")
		if err != nil {
			return nil, "", err
		}
		_ = w.Write([]string{"sale_id", "product_code", "quantity", "unit_price", "sale_date", "cogs", "batches"})
		for _, result := range sales {
			batches := make([]string, 0, len(result.Allocations))
			for _, alloc := range result.Allocations {
				batches = append(batches, fmt.Sprintf("%s:%d@%s", alloc.BatchID, alloc.Quantity, alloc.UnitCost.StringFixed(2)))
			}
			_ = w.Write([]string{
				result.Sale.ID, result.Sale.ProductCode,
				strconv.Itoa(result.Sale.Quantity),
				result.Sale.UnitPrice.StringFixed(2),
				result.Sale.SaleDate.UTC().Format("2006-01-02"),
				result.COGS.StringFixed(2),
				strings.Join(batches, "|"),
			})
		}
	default:
		return nil, "", fmt.Errorf("%w: unknown export entity %q", store.ErrInvalidInput, entity)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("%s-%s.csv", entity, time.Now().UTC().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}
