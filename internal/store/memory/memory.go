// Package memory implements store.Repository in process memory. It backs
// tests and local development; a single mutex gives every operation the
// same all-or-nothing behavior the Postgres store gets from transactions.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"gudangku/backend/internal/domain"
	"gudangku/backend/internal/store"
	"gudangku/backend/internal/xid"
)

type Store struct {
	mu          sync.Mutex
	products    map[string]*domain.Product       // keyed by internal id
	batches     map[string]*domain.PurchaseBatch // keyed by internal id
	sales       map[string]*domain.Sale          // keyed by internal id
	allocations map[string][]domain.AllocationDetail
	users       map[string]*domain.UserAccount
}

func New() *Store {
	return &Store{
		products:    make(map[string]*domain.Product),
		batches:     make(map[string]*domain.PurchaseBatch),
		sales:       make(map[string]*domain.Sale),
		allocations: make(map[string][]domain.AllocationDetail),
		users:       make(map[string]*domain.UserAccount),
	}
}

// NewSeeded returns a store pre-loaded with a small demo catalog and dev
// credentials so the server is usable out of the box without Postgres.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; hardcoded
// dev defaults are used when unset. Never used in production (the backend
// uses PostgreSQL when DATABASE_URL is set).
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		_ = s.CreateUser(ctx, domain.UserAccount{
			Username: u.username,
			Password: string(hash),
			Role:     u.role,
			Active:   true,
		})
	}

	seedProducts := []domain.Product{
		{Code: "AJ1-RET-HI", Description: "Air Jordan 1 Retro High OG", Brand: "Nike", Size: "42", CurrentPrice: decimal.NewFromInt(2850000)},
		{Code: "NB550-WG", Description: "New Balance 550 White Green", Brand: "New Balance", Size: "43", CurrentPrice: decimal.NewFromInt(1720000)},
		{Code: "SAMBA-OG", Description: "Samba OG Cloud White", Brand: "Adidas", Size: "41", CurrentPrice: decimal.NewFromInt(1550000)},
	}
	for _, p := range seedProducts {
		_, _ = s.CreateProduct(ctx, p)
	}

	seedBatches := []domain.PurchaseBatch{
		{ProductCode: "AJ1-RET-HI", BatchID: "B-2406-01", OriginalQty: 6, UnitCost: decimal.NewFromInt(2100000), PurchaseDate: mustDate("2026-06-03")},
		{ProductCode: "AJ1-RET-HI", BatchID: "B-2407-02", OriginalQty: 4, UnitCost: decimal.NewFromInt(2250000), PurchaseDate: mustDate("2026-07-11")},
		{ProductCode: "NB550-WG", BatchID: "B-2405-09", OriginalQty: 10, UnitCost: decimal.NewFromInt(1240000), PurchaseDate: mustDate("2026-05-22")},
		{ProductCode: "SAMBA-OG", BatchID: "B-2407-03", OriginalQty: 8, UnitCost: decimal.NewFromInt(1080000), PurchaseDate: mustDate("2026-07-02")},
	}
	for _, b := range seedBatches {
		_, _ = s.RecordPurchase(ctx, b)
	}

	return s
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func envOr(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// ---- catalog ----

func (s *Store) findActiveProductByCode(code string) *domain.Product {
	for _, p := range s.products {
		if !p.Deleted && p.Code == code {
			return p
		}
	}
	return nil
}

// liveProductCode resolves a product id to its current code, so renamed
// products keep their history attached under the new code. Callers hold
// the mutex.
func (s *Store) liveProductCode(productID string, fallback string) string {
	if p, ok := s.products[productID]; ok {
		return p.Code
	}
	return fallback
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.ProductWithBatches, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ProductWithBatches, 0, len(s.products))
	for _, p := range s.products {
		if p.Deleted {
			continue
		}
		entry := domain.ProductWithBatches{Product: *p, Batches: []domain.PurchaseBatch{}}
		for _, b := range s.batches {
			if b.Deleted || b.ProductID != p.ID {
				continue
			}
			batch := *b
			batch.ProductCode = p.Code
			entry.Batches = append(entry.Batches, batch)
		}
		sort.Slice(entry.Batches, func(i, j int) bool {
			a, b := entry.Batches[i], entry.Batches[j]
			if !a.PurchaseDate.Equal(b.PurchaseDate) {
				return a.PurchaseDate.After(b.PurchaseDate)
			}
			return a.BatchID > b.BatchID
		})
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Brand != out[j].Brand {
			return out[i].Brand < out[j].Brand
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.CurrentPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findActiveProductByCode(product.Code) != nil {
		return nil, store.ErrDuplicateProduct
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt

	stored := product
	s.products[stored.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetActiveProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findActiveProductByCode(code)
	if p == nil {
		return nil, store.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *Store) UpdateProduct(ctx context.Context, code string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findActiveProductByCode(code)
	if p == nil {
		return nil, store.ErrNotFound
	}

	next := *p
	if req.Code != nil {
		if *req.Code == "" {
			return nil, store.ErrInvalidInput
		}
		if *req.Code != p.Code && s.findActiveProductByCode(*req.Code) != nil {
			return nil, store.ErrDuplicateProduct
		}
		next.Code = *req.Code
	}
	if req.Description != nil {
		next.Description = *req.Description
	}
	if req.Brand != nil {
		next.Brand = *req.Brand
	}
	if req.Size != nil {
		next.Size = *req.Size
	}
	if req.CurrentPrice != nil {
		if req.CurrentPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		next.CurrentPrice = *req.CurrentPrice
	}
	next.UpdatedAt = time.Now().UTC()

	*p = next
	out := next
	return &out, nil
}

func (s *Store) SoftDeleteProduct(ctx context.Context, code string, at time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findActiveProductByCode(code)
	if p == nil {
		return nil, store.ErrNotFound
	}

	deletedAt := at.UTC()
	p.Deleted = true
	p.DeletedAt = &deletedAt
	p.UpdatedAt = deletedAt
	out := *p
	return &out, nil
}

// ---- batch ledger ----

func (s *Store) RecordPurchase(ctx context.Context, batch domain.PurchaseBatch) (*domain.PurchaseBatch, error) {
	if batch.ProductCode == "" || batch.BatchID == "" || batch.OriginalQty < 1 || batch.UnitCost.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product := s.findActiveProductByCode(batch.ProductCode)
	if product == nil {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.batches {
		if !existing.Deleted && existing.ProductID == product.ID && existing.BatchID == batch.BatchID {
			return nil, &store.DuplicateBatchError{ProductCode: batch.ProductCode, BatchID: batch.BatchID}
		}
	}

	if batch.ID == "" {
		batch.ID = xid.New("pur")
	}
	batch.ProductID = product.ID
	batch.RemainingQty = batch.OriginalQty
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = batch.CreatedAt

	stored := batch
	s.batches[stored.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) ListPurchases(ctx context.Context, productCode string) ([]domain.PurchaseBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Filter by product id, not the code frozen into the batch at creation,
	// so a renamed product keeps its purchase history.
	var filter *domain.Product
	if productCode != "" {
		filter = s.findActiveProductByCode(productCode)
		if filter == nil {
			return []domain.PurchaseBatch{}, nil
		}
	}

	out := make([]domain.PurchaseBatch, 0, len(s.batches))
	for _, b := range s.batches {
		if b.Deleted {
			continue
		}
		if filter != nil && b.ProductID != filter.ID {
			continue
		}
		batch := *b
		batch.ProductCode = s.liveProductCode(b.ProductID, b.ProductCode)
		out = append(out, batch)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.After(out[j].PurchaseDate)
		}
		return out[i].BatchID > out[j].BatchID
	})
	return out, nil
}

// eligibleLots returns pointers to the product's allocatable batches in FIFO
// order: oldest purchase date first, ties by batch id ascending. Callers hold
// the mutex.
func (s *Store) eligibleLots(productID string) []*domain.PurchaseBatch {
	lots := make([]*domain.PurchaseBatch, 0, 8)
	for _, b := range s.batches {
		if !b.Deleted && b.RemainingQty > 0 && b.ProductID == productID {
			lots = append(lots, b)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].PurchaseDate.Equal(lots[j].PurchaseDate) {
			return lots[i].PurchaseDate.Before(lots[j].PurchaseDate)
		}
		return lots[i].BatchID < lots[j].BatchID
	})
	return lots
}

func (s *Store) ListEligibleBatchesFIFO(ctx context.Context, productCode string) ([]domain.BatchStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product := s.findActiveProductByCode(productCode)
	if product == nil {
		return nil, store.ErrNotFound
	}

	lots := s.eligibleLots(product.ID)
	out := make([]domain.BatchStock, 0, len(lots))
	for _, lot := range lots {
		out = append(out, domain.BatchStock{
			BatchRef:     lot.ID,
			BatchID:      lot.BatchID,
			RemainingQty: lot.RemainingQty,
			UnitCost:     lot.UnitCost,
			PurchaseDate: lot.PurchaseDate,
		})
	}
	return out, nil
}

func (s *Store) UpdatePurchase(ctx context.Context, purchaseID string, req domain.PurchaseUpdateRequest) (*domain.PurchaseBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[purchaseID]
	if !ok || b.Deleted {
		return nil, store.ErrNotFound
	}

	next := *b
	if req.BatchID != nil {
		if *req.BatchID == "" {
			return nil, store.ErrInvalidInput
		}
		if *req.BatchID != b.BatchID {
			for _, existing := range s.batches {
				if !existing.Deleted && existing.ProductID == b.ProductID && existing.BatchID == *req.BatchID {
					return nil, &store.DuplicateBatchError{ProductCode: b.ProductCode, BatchID: *req.BatchID}
				}
			}
		}
		next.BatchID = *req.BatchID
	}
	if req.UnitCost != nil {
		if req.UnitCost.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		next.UnitCost = *req.UnitCost
	}
	if req.PurchaseDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.PurchaseDate)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		next.PurchaseDate = parsed
	}
	if req.RemainingQty != nil {
		if *req.RemainingQty < 0 || *req.RemainingQty > b.OriginalQty {
			return nil, store.ErrInvalidInput
		}
		next.RemainingQty = *req.RemainingQty
	}
	next.UpdatedAt = time.Now().UTC()

	*b = next
	out := next
	return &out, nil
}

func (s *Store) SoftDeletePurchase(ctx context.Context, purchaseID string, at time.Time) (*domain.PurchaseBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[purchaseID]
	if !ok || b.Deleted {
		return nil, store.ErrNotFound
	}

	deletedAt := at.UTC()
	b.Deleted = true
	b.DeletedAt = &deletedAt
	b.UpdatedAt = deletedAt
	out := *b
	return &out, nil
}

// ---- allocation engine ----

// planFIFO computes the allocation without mutating anything. The caller
// applies the plan only after it validates in full, which keeps failed
// allocations side-effect free.
func planFIFO(lots []*domain.PurchaseBatch, saleID string, productCode string, quantity int) ([]domain.AllocationDetail, error) {
	available := 0
	for _, lot := range lots {
		available += lot.RemainingQty
	}
	if available < quantity {
		return nil, &store.InsufficientStockError{ProductCode: productCode, Requested: quantity, Available: available}
	}

	remaining := quantity
	plan := make([]domain.AllocationDetail, 0, 4)
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := min(remaining, lot.RemainingQty)
		plan = append(plan, domain.AllocationDetail{
			ID:       xid.New("alloc"),
			SaleID:   saleID,
			BatchRef: lot.ID,
			BatchID:  lot.BatchID,
			Quantity: take,
			UnitCost: lot.UnitCost,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, &store.AllocationConsistencyError{ProductCode: productCode, Unfulfilled: remaining}
	}
	return plan, nil
}

func (s *Store) applyPlan(plan []domain.AllocationDetail, saleID string) {
	for _, alloc := range plan {
		s.batches[alloc.BatchRef].RemainingQty -= alloc.Quantity
	}
	s.allocations[saleID] = plan
}

func allocationCOGS(allocations []domain.AllocationDetail) decimal.Decimal {
	total := decimal.Zero
	for _, alloc := range allocations {
		total = total.Add(alloc.UnitCost.Mul(decimal.NewFromInt(int64(alloc.Quantity))))
	}
	return total
}

func (s *Store) AllocateSale(ctx context.Context, sale domain.Sale) (*domain.SaleResult, error) {
	if sale.ProductCode == "" || sale.Quantity < 1 || sale.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product := s.findActiveProductByCode(sale.ProductCode)
	if product == nil {
		return nil, store.ErrNotFound
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.ProductID = product.ID
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = sale.CreatedAt

	plan, err := planFIFO(s.eligibleLots(product.ID), sale.ID, sale.ProductCode, sale.Quantity)
	if err != nil {
		return nil, err
	}

	stored := sale
	s.sales[stored.ID] = &stored
	s.applyPlan(plan, stored.ID)

	return &domain.SaleResult{
		Sale:        stored,
		Allocations: append([]domain.AllocationDetail(nil), plan...),
		COGS:        allocationCOGS(plan),
	}, nil
}

// restorePlan validates that every drawn unit fits back under its batch's
// original quantity, then applies the restore. Callers hold the mutex.
func (s *Store) restorePlan(saleID string, productCode string) error {
	for _, alloc := range s.allocations[saleID] {
		b, ok := s.batches[alloc.BatchRef]
		if !ok || b.RemainingQty+alloc.Quantity > b.OriginalQty {
			return &store.AllocationConsistencyError{ProductCode: productCode, Unfulfilled: alloc.Quantity}
		}
	}
	for _, alloc := range s.allocations[saleID] {
		s.batches[alloc.BatchRef].RemainingQty += alloc.Quantity
	}
	return nil
}

// undoRestore re-applies a restore that a later step invalidated.
func (s *Store) undoRestore(saleID string) {
	for _, alloc := range s.allocations[saleID] {
		s.batches[alloc.BatchRef].RemainingQty -= alloc.Quantity
	}
}

func (s *Store) ReallocateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (*domain.SaleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok || sale.Deleted {
		return nil, store.ErrNotFound
	}

	next := *sale
	next.ProductCode = s.liveProductCode(sale.ProductID, sale.ProductCode)
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		next.Quantity = *req.Quantity
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		next.UnitPrice = *req.UnitPrice
	}
	if req.SaleDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.SaleDate)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		next.SaleDate = parsed
	}

	if err := s.restorePlan(saleID, sale.ProductCode); err != nil {
		return nil, err
	}

	plan, err := planFIFO(s.eligibleLots(sale.ProductID), saleID, sale.ProductCode, next.Quantity)
	if err != nil {
		s.undoRestore(saleID)
		return nil, err
	}

	next.UpdatedAt = time.Now().UTC()
	*sale = next
	s.applyPlan(plan, saleID)

	return &domain.SaleResult{
		Sale:        next,
		Allocations: append([]domain.AllocationDetail(nil), plan...),
		COGS:        allocationCOGS(plan),
	}, nil
}

func (s *Store) ReverseSale(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok || sale.Deleted {
		return nil, store.ErrNotFound
	}

	if err := s.restorePlan(saleID, sale.ProductCode); err != nil {
		return nil, err
	}

	deletedAt := at.UTC()
	sale.Deleted = true
	sale.DeletedAt = &deletedAt
	sale.UpdatedAt = deletedAt
	out := *sale
	out.ProductCode = s.liveProductCode(sale.ProductID, sale.ProductCode)
	return &out, nil
}

func (s *Store) ListSales(ctx context.Context, productCode string) ([]domain.SaleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filter *domain.Product
	if productCode != "" {
		filter = s.findActiveProductByCode(productCode)
		if filter == nil {
			return []domain.SaleResult{}, nil
		}
	}

	out := make([]domain.SaleResult, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.Deleted {
			continue
		}
		if filter != nil && sale.ProductID != filter.ID {
			continue
		}
		entry := *sale
		entry.ProductCode = s.liveProductCode(sale.ProductID, sale.ProductCode)
		allocations := append([]domain.AllocationDetail(nil), s.allocations[sale.ID]...)
		out = append(out, domain.SaleResult{
			Sale:        entry,
			Allocations: allocations,
			COGS:        allocationCOGS(allocations),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Sale, out[j].Sale
		if !a.SaleDate.Equal(b.SaleDate) {
			return a.SaleDate.After(b.SaleDate)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.SaleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok || sale.Deleted {
		return nil, store.ErrNotFound
	}
	entry := *sale
	entry.ProductCode = s.liveProductCode(sale.ProductID, sale.ProductCode)
	allocations := append([]domain.AllocationDetail(nil), s.allocations[saleID]...)
	return &domain.SaleResult{
		Sale:        entry,
		Allocations: allocations,
		COGS:        allocationCOGS(allocations),
	}, nil
}

// ---- inventory query layer ----

func (s *Store) ProductStock(ctx context.Context, productCode string) (*domain.ProductStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product := s.findActiveProductByCode(productCode)
	if product == nil {
		return nil, store.ErrNotFound
	}
	return s.productStockLocked(product), nil
}

func (s *Store) productStockLocked(product *domain.Product) *domain.ProductStock {
	stock := &domain.ProductStock{
		ProductCode: product.Code,
		Description: product.Description,
		Brand:       product.Brand,
		FIFOValue:   decimal.Zero,
		Batches:     []domain.BatchStock{},
	}
	for _, lot := range s.eligibleLots(product.ID) {
		stock.Batches = append(stock.Batches, domain.BatchStock{
			BatchRef:     lot.ID,
			BatchID:      lot.BatchID,
			RemainingQty: lot.RemainingQty,
			UnitCost:     lot.UnitCost,
			PurchaseDate: lot.PurchaseDate,
		})
		stock.AvailableQty += lot.RemainingQty
		stock.FIFOValue = stock.FIFOValue.Add(lot.UnitCost.Mul(decimal.NewFromInt(int64(lot.RemainingQty))))
	}
	return stock
}

func (s *Store) StockReport(ctx context.Context) (*domain.StockReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &domain.StockReport{
		GeneratedAt: time.Now().UTC(),
		TotalValue:  decimal.Zero,
		Products:    make([]domain.ProductStock, 0, len(s.products)),
	}
	active := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Deleted {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Brand != active[j].Brand {
			return active[i].Brand < active[j].Brand
		}
		return active[i].Code < active[j].Code
	})
	for _, p := range active {
		stock := s.productStockLocked(p)
		report.Products = append(report.Products, *stock)
		report.TotalValue = report.TotalValue.Add(stock.FIFOValue)
	}
	return report, nil
}

// ---- auth accounts ----

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, exists := s.users[key]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	stored := user
	s.users[key] = &stored
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	return nil
}
