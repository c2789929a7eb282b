package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gudangku/backend/internal/cache"
	"gudangku/backend/internal/domain"
	"gudangku/backend/internal/report"
	"gudangku/backend/internal/store"
	"gudangku/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.New()
	reports := report.NewEngine(repo, cache.NoopStockCache{}, 5*time.Second)
	return New(repo, reports)
}

func mustCreateProduct(t *testing.T, svc *Service, code string) {
	t.Helper()
	_, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		Code:         code,
		Description:  "test product",
		Brand:        "TestBrand",
		CurrentPrice: decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("create product %s failed: %v", code, err)
	}
}

func mustRecordPurchase(t *testing.T, svc *Service, code, batchID string, qty int, cost int64, date string) {
	t.Helper()
	_, err := svc.RecordPurchase(context.Background(), domain.PurchaseCreateRequest{
		ProductCode:  code,
		BatchID:      batchID,
		Quantity:     qty,
		UnitCost:     decimal.NewFromInt(cost),
		PurchaseDate: date,
	})
	if err != nil {
		t.Fatalf("record purchase %s/%s failed: %v", code, batchID, err)
	}
}

func TestSaleAllocatesOldestBatchFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-1")
	mustRecordPurchase(t, svc, "WIDGET-1", "B2", 5, 12, "2026-02-01")
	mustRecordPurchase(t, svc, "WIDGET-1", "B1", 3, 10, "2026-01-15")

	result, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-1",
		Quantity:    5,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-03-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	if len(result.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(result.Allocations))
	}
	first, second := result.Allocations[0], result.Allocations[1]
	if first.BatchID != "B1" || first.Quantity != 3 {
		t.Fatalf("expected 3 units from B1 first, got %d from %s", first.Quantity, first.BatchID)
	}
	if second.BatchID != "B2" || second.Quantity != 2 {
		t.Fatalf("expected 2 units from B2 second, got %d from %s", second.Quantity, second.BatchID)
	}

	// 3 units at 10 plus 2 units at 12.
	if !result.COGS.Equal(decimal.NewFromInt(54)) {
		t.Fatalf("expected COGS 54, got %s", result.COGS)
	}
}

func TestSaleAllocationBreaksDateTiesByBatchID(t *testing.T) {
	svc := newTestService()
	mustCreateProduct(t, svc, "WIDGET-2")
	mustRecordPurchase(t, svc, "WIDGET-2", "LOT-B", 4, 15, "2026-01-10")
	mustRecordPurchase(t, svc, "WIDGET-2", "LOT-A", 4, 14, "2026-01-10")

	result, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		ProductCode: "WIDGET-2",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(30),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if result.Allocations[0].BatchID != "LOT-A" {
		t.Fatalf("expected tie broken toward LOT-A, got %s", result.Allocations[0].BatchID)
	}
}

func TestSaleAllocationQuantitiesSumToSaleQuantity(t *testing.T) {
	svc := newTestService()
	mustCreateProduct(t, svc, "WIDGET-3")
	mustRecordPurchase(t, svc, "WIDGET-3", "B1", 2, 10, "2026-01-01")
	mustRecordPurchase(t, svc, "WIDGET-3", "B2", 2, 11, "2026-01-02")
	mustRecordPurchase(t, svc, "WIDGET-3", "B3", 2, 12, "2026-01-03")

	result, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		ProductCode: "WIDGET-3",
		Quantity:    5,
		UnitPrice:   decimal.NewFromInt(25),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	total := 0
	for _, alloc := range result.Allocations {
		if alloc.Quantity < 1 {
			t.Fatalf("allocation for %s has non-positive quantity %d", alloc.BatchID, alloc.Quantity)
		}
		total += alloc.Quantity
	}
	if total != 5 {
		t.Fatalf("allocations sum to %d, want 5", total)
	}
}

func TestInsufficientStockRejectsWithoutMutation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-4")
	mustRecordPurchase(t, svc, "WIDGET-4", "B1", 3, 10, "2026-01-01")

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-4",
		Quantity:    4,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	})
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 4 || insufficient.Available != 3 {
		t.Fatalf("expected requested=4 available=3, got %+v", insufficient)
	}

	stock, err := svc.ProductStock(ctx, "WIDGET-4")
	if err != nil {
		t.Fatalf("stock query failed: %v", err)
	}
	if stock.AvailableQty != 3 {
		t.Fatalf("failed sale mutated stock: available %d, want 3", stock.AvailableQty)
	}

	sales, err := svc.ListSales(ctx, "WIDGET-4")
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("failed sale left %d sale records", len(sales))
	}
}

func TestCOGSFrozenAfterBatchCostEdit(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-5")
	mustRecordPurchase(t, svc, "WIDGET-5", "B1", 5, 10, "2026-01-01")

	result, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-5",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	purchases, err := svc.ListPurchases(ctx, "WIDGET-5")
	if err != nil {
		t.Fatalf("list purchases failed: %v", err)
	}
	newCost := decimal.NewFromInt(99)
	if _, err := svc.UpdatePurchase(ctx, purchases[0].ID, domain.PurchaseUpdateRequest{UnitCost: &newCost}); err != nil {
		t.Fatalf("update purchase failed: %v", err)
	}

	reloaded, err := svc.GetSale(ctx, result.Sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if !reloaded.COGS.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("historical COGS changed after cost edit: got %s, want 20", reloaded.COGS)
	}
}

func TestDeletedBatchExcludedFromAllocationAndStock(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-6")
	mustRecordPurchase(t, svc, "WIDGET-6", "B1", 2, 10, "2026-01-01")
	mustRecordPurchase(t, svc, "WIDGET-6", "B2", 3, 12, "2026-01-05")

	purchases, err := svc.ListPurchases(ctx, "WIDGET-6")
	if err != nil {
		t.Fatalf("list purchases failed: %v", err)
	}
	var oldest string
	for _, b := range purchases {
		if b.BatchID == "B1" {
			oldest = b.ID
		}
	}
	if _, err := svc.DeletePurchase(ctx, oldest); err != nil {
		t.Fatalf("delete purchase failed: %v", err)
	}

	stock, err := svc.ProductStock(ctx, "WIDGET-6")
	if err != nil {
		t.Fatalf("stock query failed: %v", err)
	}
	if stock.AvailableQty != 3 {
		t.Fatalf("deleted batch still counted: available %d, want 3", stock.AvailableQty)
	}

	result, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-6",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if result.Allocations[0].BatchID != "B2" {
		t.Fatalf("allocation drew from deleted batch %s", result.Allocations[0].BatchID)
	}
}

func TestSaleDeleteRestoresBatchQuantities(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-7")
	mustRecordPurchase(t, svc, "WIDGET-7", "B1", 4, 10, "2026-01-01")

	result, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-7",
		Quantity:    3,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	if _, err := svc.DeleteSale(ctx, result.Sale.ID); err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}

	stock, err := svc.ProductStock(ctx, "WIDGET-7")
	if err != nil {
		t.Fatalf("stock query failed: %v", err)
	}
	if stock.AvailableQty != 4 {
		t.Fatalf("reversal did not restore stock: available %d, want 4", stock.AvailableQty)
	}

	if _, err := svc.GetSale(ctx, result.Sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted sale still visible: %v", err)
	}
}

func TestSaleEditReallocatesAtNewQuantity(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-8")
	mustRecordPurchase(t, svc, "WIDGET-8", "B1", 3, 10, "2026-01-01")
	mustRecordPurchase(t, svc, "WIDGET-8", "B2", 3, 12, "2026-01-05")

	result, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-8",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	newQty := 5
	updated, err := svc.UpdateSale(ctx, result.Sale.ID, domain.SaleUpdateRequest{Quantity: &newQty})
	if err != nil {
		t.Fatalf("update sale failed: %v", err)
	}
	if updated.Sale.Quantity != 5 {
		t.Fatalf("sale quantity not updated: %d", updated.Sale.Quantity)
	}
	total := 0
	for _, alloc := range updated.Allocations {
		total += alloc.Quantity
	}
	if total != 5 {
		t.Fatalf("re-allocation sums to %d, want 5", total)
	}
	// 3 at 10 plus 2 at 12.
	if !updated.COGS.Equal(decimal.NewFromInt(54)) {
		t.Fatalf("re-allocation COGS %s, want 54", updated.COGS)
	}

	stock, err := svc.ProductStock(ctx, "WIDGET-8")
	if err != nil {
		t.Fatalf("stock query failed: %v", err)
	}
	if stock.AvailableQty != 1 {
		t.Fatalf("available after edit %d, want 1", stock.AvailableQty)
	}
}

func TestSaleEditRejectedWhenNewQuantityExceedsStock(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-9")
	mustRecordPurchase(t, svc, "WIDGET-9", "B1", 3, 10, "2026-01-01")

	result, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-9",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	newQty := 4
	_, err = svc.UpdateSale(ctx, result.Sale.ID, domain.SaleUpdateRequest{Quantity: &newQty})
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	// The failed edit must leave the original allocation untouched.
	reloaded, err := svc.GetSale(ctx, result.Sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if reloaded.Sale.Quantity != 2 {
		t.Fatalf("failed edit changed quantity to %d", reloaded.Sale.Quantity)
	}
	stock, err := svc.ProductStock(ctx, "WIDGET-9")
	if err != nil {
		t.Fatalf("stock query failed: %v", err)
	}
	if stock.AvailableQty != 1 {
		t.Fatalf("failed edit changed stock: available %d, want 1", stock.AvailableQty)
	}
}

func TestConcurrentSalesOnLastUnitsHaveOneWinner(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-10")
	mustRecordPurchase(t, svc, "WIDGET-10", "B1", 3, 10, "2026-01-01")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
				ProductCode: "WIDGET-10",
				Quantity:    3,
				UnitPrice:   decimal.NewFromInt(20),
				SaleDate:    "2026-02-01",
			})
			results[slot] = err
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			var insufficient *store.InsufficientStockError
			if !errors.As(err, &insufficient) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one loser, got %d failures", failures)
	}

	stock, err := svc.ProductStock(ctx, "WIDGET-10")
	if err != nil {
		t.Fatalf("stock query failed: %v", err)
	}
	if stock.AvailableQty != 0 {
		t.Fatalf("available after concurrent sales %d, want 0", stock.AvailableQty)
	}
}

func TestDuplicateBatchIDRejectedPerProduct(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-11")
	mustCreateProduct(t, svc, "WIDGET-12")
	mustRecordPurchase(t, svc, "WIDGET-11", "B1", 2, 10, "2026-01-01")

	_, err := svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{
		ProductCode:  "WIDGET-11",
		BatchID:      "B1",
		Quantity:     2,
		UnitCost:     decimal.NewFromInt(10),
		PurchaseDate: "2026-01-02",
	})
	var dup *store.DuplicateBatchError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateBatchError, got %v", err)
	}

	// Same batch id on a different product is fine.
	mustRecordPurchase(t, svc, "WIDGET-12", "B1", 2, 10, "2026-01-02")
}

func TestDuplicateProductCodeRejectedUntilDeleted(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-13")

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Code:         "widget-13",
		CurrentPrice: decimal.NewFromInt(10),
	})
	if !errors.Is(err, store.ErrDuplicateProduct) {
		t.Fatalf("expected ErrDuplicateProduct, got %v", err)
	}

	if _, err := svc.DeleteProduct(ctx, "WIDGET-13"); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}
	// The tombstone frees the code for reuse.
	mustCreateProduct(t, svc, "WIDGET-13")
}

func TestProductRenameKeepsHistoryAttached(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "OLD-CODE")
	mustRecordPurchase(t, svc, "OLD-CODE", "B1", 3, 10, "2026-01-01")
	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "OLD-CODE",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	newCode := "NEW-CODE"
	if _, err := svc.UpdateProduct(ctx, "OLD-CODE", domain.ProductUpdateRequest{Code: &newCode}); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	purchases, err := svc.ListPurchases(ctx, "NEW-CODE")
	if err != nil {
		t.Fatalf("list purchases failed: %v", err)
	}
	if len(purchases) != 1 {
		t.Fatalf("purchase history lost after rename: got %d rows, want 1", len(purchases))
	}
	if purchases[0].ProductCode != "NEW-CODE" {
		t.Fatalf("purchase row carries stale code %q", purchases[0].ProductCode)
	}

	sales, err := svc.ListSales(ctx, "NEW-CODE")
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("sale history lost after rename: got %d rows, want 1", len(sales))
	}
	if sales[0].Sale.ProductCode != "NEW-CODE" {
		t.Fatalf("sale row carries stale code %q", sales[0].Sale.ProductCode)
	}

	// The old code resolves to nothing, so it cannot leak history to a
	// future product that reuses it.
	stale, err := svc.ListPurchases(ctx, "OLD-CODE")
	if err != nil {
		t.Fatalf("list purchases under old code failed: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("old code still lists %d purchase rows", len(stale))
	}
}

func TestDeletedProductRejectedForPurchasesAndSales(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-14")
	mustRecordPurchase(t, svc, "WIDGET-14", "B1", 5, 10, "2026-01-01")
	if _, err := svc.DeleteProduct(ctx, "WIDGET-14"); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}

	_, err := svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{
		ProductCode:  "WIDGET-14",
		BatchID:      "B2",
		Quantity:     1,
		UnitCost:     decimal.NewFromInt(10),
		PurchaseDate: "2026-01-02",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for purchase, got %v", err)
	}

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-14",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-01-03",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for sale, got %v", err)
	}
}

func TestStockReportValuesInventoryAtFrozenCosts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-15")
	mustRecordPurchase(t, svc, "WIDGET-15", "B1", 3, 10, "2026-01-01")
	mustRecordPurchase(t, svc, "WIDGET-15", "B2", 2, 12, "2026-01-05")

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-15",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	// Remaining: 1 at 10 plus 2 at 12 = 34.
	report, err := svc.StockReport(ctx)
	if err != nil {
		t.Fatalf("stock report failed: %v", err)
	}
	if len(report.Products) != 1 {
		t.Fatalf("expected 1 product in report, got %d", len(report.Products))
	}
	entry := report.Products[0]
	if entry.AvailableQty != 3 {
		t.Fatalf("report available %d, want 3", entry.AvailableQty)
	}
	if !entry.FIFOValue.Equal(decimal.NewFromInt(34)) {
		t.Fatalf("report value %s, want 34", entry.FIFOValue)
	}
	if !report.TotalValue.Equal(decimal.NewFromInt(34)) {
		t.Fatalf("report total %s, want 34", report.TotalValue)
	}

	// Repeating the query must not change anything.
	again, err := svc.StockReport(ctx)
	if err != nil {
		t.Fatalf("second stock report failed: %v", err)
	}
	if !again.TotalValue.Equal(report.TotalValue) {
		t.Fatalf("repeated report changed total: %s vs %s", again.TotalValue, report.TotalValue)
	}
}

func TestRemainingQtyCorrectionBounds(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-16")
	mustRecordPurchase(t, svc, "WIDGET-16", "B1", 5, 10, "2026-01-01")

	purchases, err := svc.ListPurchases(ctx, "WIDGET-16")
	if err != nil {
		t.Fatalf("list purchases failed: %v", err)
	}
	id := purchases[0].ID

	tooHigh := 6
	if _, err := svc.UpdatePurchase(ctx, id, domain.PurchaseUpdateRequest{RemainingQty: &tooHigh}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for correction above original, got %v", err)
	}

	negative := -1
	if _, err := svc.UpdatePurchase(ctx, id, domain.PurchaseUpdateRequest{RemainingQty: &negative}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative correction, got %v", err)
	}

	valid := 2
	updated, err := svc.UpdatePurchase(ctx, id, domain.PurchaseUpdateRequest{RemainingQty: &valid})
	if err != nil {
		t.Fatalf("valid correction failed: %v", err)
	}
	if updated.RemainingQty != 2 {
		t.Fatalf("correction not applied: remaining %d", updated.RemainingQty)
	}
}

// guardTrippingRepo simulates the deduction guard firing during a sale edit.
type guardTrippingRepo struct {
	store.Repository
}

func (r *guardTrippingRepo) ReallocateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (*domain.SaleResult, error) {
	return nil, &store.InsufficientBatchStockError{BatchID: "B1", Requested: 2, Remaining: 1}
}

func TestSaleEditGuardFailureNamesProduct(t *testing.T) {
	repo := &guardTrippingRepo{Repository: memory.New()}
	reports := report.NewEngine(repo, cache.NoopStockCache{}, 5*time.Second)
	svc := New(repo, reports)
	ctx := context.Background()

	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Code:         "GUARD-1",
		CurrentPrice: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	mustRecordPurchase(t, svc, "GUARD-1", "B1", 3, 10, "2026-01-01")
	result, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "GUARD-1",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	newQty := 2
	_, err = svc.UpdateSale(ctx, result.Sale.ID, domain.SaleUpdateRequest{Quantity: &newQty})
	var consistency *store.AllocationConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("expected AllocationConsistencyError, got %v", err)
	}
	if consistency.ProductCode != "GUARD-1" {
		t.Fatalf("consistency error names product %q, want GUARD-1", consistency.ProductCode)
	}
}

func TestSaleRejectsMalformedDate(t *testing.T) {
	svc := newTestService()
	mustCreateProduct(t, svc, "WIDGET-17")
	mustRecordPurchase(t, svc, "WIDGET-17", "B1", 5, 10, "2026-01-01")

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		ProductCode: "WIDGET-17",
		Quantity:    1,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "01/02/2026",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed date, got %v", err)
	}
}

func TestExportSalesCSVIncludesBatchBreakdown(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateProduct(t, svc, "WIDGET-18")
	mustRecordPurchase(t, svc, "WIDGET-18", "B1", 3, 10, "2026-01-01")
	mustRecordPurchase(t, svc, "WIDGET-18", "B2", 3, 12, "2026-01-05")

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductCode: "WIDGET-18",
		Quantity:    5,
		UnitPrice:   decimal.NewFromInt(20),
		SaleDate:    "2026-02-01",
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	payload, filename, err := svc.ExportCSV(ctx, domain.ExportSales)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(filename, "sales-") || !strings.HasSuffix(filename, ".csv") {
		t.Fatalf("unexpected filename %q", filename)
	}
	body := string(payload)
	if !strings.Contains(body, "B1:3@10.00") || !strings.Contains(body, "B2:2@12.00") {
		t.Fatalf("batch breakdown missing from export:\n%s", body)
	}
	if !strings.Contains(body, "54.00") {
		t.Fatalf("COGS missing from export:\n%s", body)
	}

	if _, _, err := svc.ExportCSV(ctx, "unknown"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown entity, got %v", err)
	}
}
