// Package postgres implements store.Repository on PostgreSQL. The FIFO
// allocation engine lives here: every sale runs as one serializable
// transaction that locks the product's eligible batches for its duration,
// so two sales against the same product serialize while sales against
// different products proceed independently.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"gudangku/backend/internal/domain"
	"gudangku/backend/internal/store"
	"gudangku/backend/internal/xid"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "gudangku", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---- catalog ----

func (s *Store) ListProducts(ctx context.Context) ([]domain.ProductWithBatches, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, description, brand, size, current_price, created_at, updated_at
		FROM products
		WHERE is_deleted = false
		ORDER BY brand ASC, code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.ProductWithBatches, 0, 64)
	index := make(map[string]int, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Description, &p.Brand, &p.Size, &p.CurrentPrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		index[p.ID] = len(products)
		ids = append(ids, p.ID)
		products = append(products, domain.ProductWithBatches{Product: p, Batches: []domain.PurchaseBatch{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return products, nil
	}

	batchRows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.product_id, p.code, b.batch_id, b.original_qty, b.remaining_qty,
			b.unit_cost, b.purchase_date, b.created_at, b.updated_at
		FROM purchase_batches b
		JOIN products p ON p.id = b.product_id
		WHERE b.is_deleted = false AND b.product_id = ANY($1)
		ORDER BY b.purchase_date DESC, b.batch_id DESC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer batchRows.Close()

	for batchRows.Next() {
		var b domain.PurchaseBatch
		if err := batchRows.Scan(&b.ID, &b.ProductID, &b.ProductCode, &b.BatchID, &b.OriginalQty, &b.RemainingQty, &b.UnitCost, &b.PurchaseDate, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.PurchaseDate = b.PurchaseDate.UTC()
		if i, ok := index[b.ProductID]; ok {
			products[i].Batches = append(products[i].Batches, b)
		}
	}
	if err := batchRows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.CurrentPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, description, brand, size, current_price, is_deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7,$8)
	`, product.ID, product.Code, product.Description, product.Brand, product.Size, product.CurrentPrice, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateProduct
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetActiveProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, description, brand, size, current_price, created_at, updated_at
		FROM products
		WHERE code = $1 AND is_deleted = false
	`, code).Scan(&p.ID, &p.Code, &p.Description, &p.Brand, &p.Size, &p.CurrentPrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, code string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, code, description, brand, size, current_price, created_at
		FROM products
		WHERE code = $1 AND is_deleted = false
		FOR UPDATE
	`, code).Scan(&p.ID, &p.Code, &p.Description, &p.Brand, &p.Size, &p.CurrentPrice, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if req.Code != nil {
		if *req.Code == "" {
			return nil, store.ErrInvalidInput
		}
		p.Code = *req.Code
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Brand != nil {
		p.Brand = *req.Brand
	}
	if req.Size != nil {
		p.Size = *req.Size
	}
	if req.CurrentPrice != nil {
		if req.CurrentPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		p.CurrentPrice = *req.CurrentPrice
	}
	p.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET code = $2, description = $3, brand = $4, size = $5, current_price = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, p.Code, p.Description, p.Brand, p.Size, p.CurrentPrice, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateProduct
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := p
	return &updated, nil
}

func (s *Store) SoftDeleteProduct(ctx context.Context, code string, at time.Time) (*domain.Product, error) {
	var p domain.Product
	var deletedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE code = $1 AND is_deleted = false
		RETURNING id, code, description, brand, size, current_price, deleted_at, created_at, updated_at
	`, code, at.UTC()).Scan(&p.ID, &p.Code, &p.Description, &p.Brand, &p.Size, &p.CurrentPrice, &deletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.Deleted = true
	deletedAt = deletedAt.UTC()
	p.DeletedAt = &deletedAt
	return &p, nil
}

// ---- batch ledger ----

func (s *Store) RecordPurchase(ctx context.Context, batch domain.PurchaseBatch) (*domain.PurchaseBatch, error) {
	if batch.ProductCode == "" || batch.BatchID == "" || batch.OriginalQty < 1 || batch.UnitCost.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM products WHERE code = $1 AND is_deleted = false
	`, batch.ProductCode).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if batch.ID == "" {
		batch.ID = xid.New("pur")
	}
	batch.ProductID = productID
	batch.RemainingQty = batch.OriginalQty
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = batch.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_batches (id, product_id, batch_id, original_qty, remaining_qty, unit_cost, purchase_date, is_deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4,$5,$6,false,$7,$8)
	`, batch.ID, batch.ProductID, batch.BatchID, batch.OriginalQty, batch.UnitCost, batch.PurchaseDate, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.DuplicateBatchError{ProductCode: batch.ProductCode, BatchID: batch.BatchID}
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := batch
	return &created, nil
}

func (s *Store) ListPurchases(ctx context.Context, productCode string) ([]domain.PurchaseBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.product_id, p.code, b.batch_id, b.original_qty, b.remaining_qty,
			b.unit_cost, b.purchase_date, b.created_at, b.updated_at
		FROM purchase_batches b
		JOIN products p ON p.id = b.product_id
		WHERE b.is_deleted = false AND ($1 = '' OR p.code = $1)
		ORDER BY b.purchase_date DESC, b.batch_id DESC
	`, productCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.PurchaseBatch, 0, 64)
	for rows.Next() {
		var b domain.PurchaseBatch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.ProductCode, &b.BatchID, &b.OriginalQty, &b.RemainingQty, &b.UnitCost, &b.PurchaseDate, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.PurchaseDate = b.PurchaseDate.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ListEligibleBatchesFIFO(ctx context.Context, productCode string) ([]domain.BatchStock, error) {
	product, err := s.GetActiveProductByCode(ctx, productCode)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, remaining_qty, unit_cost, purchase_date
		FROM purchase_batches
		WHERE product_id = $1 AND is_deleted = false AND remaining_qty > 0
		ORDER BY purchase_date ASC, batch_id ASC
	`, product.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.BatchStock, 0, 16)
	for rows.Next() {
		var b domain.BatchStock
		if err := rows.Scan(&b.BatchRef, &b.BatchID, &b.RemainingQty, &b.UnitCost, &b.PurchaseDate); err != nil {
			return nil, err
		}
		b.PurchaseDate = b.PurchaseDate.UTC()
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) UpdatePurchase(ctx context.Context, purchaseID string, req domain.PurchaseUpdateRequest) (*domain.PurchaseBatch, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var b domain.PurchaseBatch
	err = tx.QueryRowContext(ctx, `
		SELECT b.id, b.product_id, p.code, b.batch_id, b.original_qty, b.remaining_qty,
			b.unit_cost, b.purchase_date, b.created_at
		FROM purchase_batches b
		JOIN products p ON p.id = b.product_id
		WHERE b.id = $1 AND b.is_deleted = false
		FOR UPDATE OF b
	`, purchaseID).Scan(&b.ID, &b.ProductID, &b.ProductCode, &b.BatchID, &b.OriginalQty, &b.RemainingQty, &b.UnitCost, &b.PurchaseDate, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if req.BatchID != nil {
		if *req.BatchID == "" {
			return nil, store.ErrInvalidInput
		}
		b.BatchID = *req.BatchID
	}
	if req.UnitCost != nil {
		if req.UnitCost.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		b.UnitCost = *req.UnitCost
	}
	if req.PurchaseDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.PurchaseDate)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		b.PurchaseDate = parsed
	}
	if req.RemainingQty != nil {
		// Administrative correction; the batch invariant still holds.
		if *req.RemainingQty < 0 || *req.RemainingQty > b.OriginalQty {
			return nil, store.ErrInvalidInput
		}
		b.RemainingQty = *req.RemainingQty
	}
	b.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_batches
		SET batch_id = $2, unit_cost = $3, purchase_date = $4, remaining_qty = $5, updated_at = $6
		WHERE id = $1
	`, b.ID, b.BatchID, b.UnitCost, b.PurchaseDate, b.RemainingQty, b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.DuplicateBatchError{ProductCode: b.ProductCode, BatchID: b.BatchID}
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := b
	return &updated, nil
}

func (s *Store) SoftDeletePurchase(ctx context.Context, purchaseID string, at time.Time) (*domain.PurchaseBatch, error) {
	// Tombstoning a batch removes it from eligibility but never unwinds
	// allocations already drawn from it.
	var b domain.PurchaseBatch
	var deletedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE purchase_batches b
		SET is_deleted = true, deleted_at = $2, updated_at = $2
		FROM products p
		WHERE b.id = $1 AND b.is_deleted = false AND p.id = b.product_id
		RETURNING b.id, b.product_id, p.code, b.batch_id, b.original_qty, b.remaining_qty,
			b.unit_cost, b.purchase_date, b.deleted_at, b.created_at, b.updated_at
	`, purchaseID, at.UTC()).Scan(&b.ID, &b.ProductID, &b.ProductCode, &b.BatchID, &b.OriginalQty, &b.RemainingQty, &b.UnitCost, &b.PurchaseDate, &deletedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b.Deleted = true
	deletedAt = deletedAt.UTC()
	b.DeletedAt = &deletedAt
	b.PurchaseDate = b.PurchaseDate.UTC()
	return &b, nil
}

// ---- allocation engine ----

type lockedBatch struct {
	ref          string
	batchID      string
	remainingQty int
	unitCost     decimal.Decimal
}

// lockEligibleBatches takes the pessimistic row locks the engine relies on:
// every eligible batch of the product, in FIFO order, locked until commit.
func lockEligibleBatches(ctx context.Context, tx *sql.Tx, productID string) ([]lockedBatch, int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, batch_id, remaining_qty, unit_cost
		FROM purchase_batches
		WHERE product_id = $1 AND is_deleted = false AND remaining_qty > 0
		ORDER BY purchase_date ASC, batch_id ASC
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	lots := make([]lockedBatch, 0, 16)
	available := 0
	for rows.Next() {
		var lot lockedBatch
		if err := rows.Scan(&lot.ref, &lot.batchID, &lot.remainingQty, &lot.unitCost); err != nil {
			return nil, 0, err
		}
		lots = append(lots, lot)
		available += lot.remainingQty
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return lots, available, nil
}

// allocateFIFO walks the locked batches oldest-first, deducting from each
// and emitting one allocation row per batch touched. The conditional UPDATE
// is the deduction guard: it refuses to take more than the batch holds even
// if the in-memory snapshot went stale.
func allocateFIFO(ctx context.Context, tx *sql.Tx, saleID string, productCode string, quantity int, lots []lockedBatch) ([]domain.AllocationDetail, error) {
	remaining := quantity
	allocations := make([]domain.AllocationDetail, 0, 4)
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := min(remaining, lot.remainingQty)

		res, err := tx.ExecContext(ctx, `
			UPDATE purchase_batches
			SET remaining_qty = remaining_qty - $1, updated_at = now()
			WHERE id = $2 AND remaining_qty >= $1
		`, take, lot.ref)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, &store.InsufficientBatchStockError{BatchID: lot.batchID, Requested: take, Remaining: lot.remainingQty}
		}

		alloc := domain.AllocationDetail{
			ID:       xid.New("alloc"),
			SaleID:   saleID,
			BatchRef: lot.ref,
			BatchID:  lot.batchID,
			Quantity: take,
			UnitCost: lot.unitCost,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_allocations (id, sale_id, purchase_batch_id, quantity, unit_cost, created_at)
			VALUES ($1,$2,$3,$4,$5,now())
		`, alloc.ID, alloc.SaleID, alloc.BatchRef, alloc.Quantity, alloc.UnitCost)
		if err != nil {
			return nil, err
		}

		allocations = append(allocations, alloc)
		remaining -= take
	}

	if remaining > 0 {
		// The aggregate check passed but the walk fell short: a concurrent
		// mutation or a bookkeeping bug. Nothing is committed.
		return nil, &store.AllocationConsistencyError{ProductCode: productCode, Unfulfilled: remaining}
	}
	return allocations, nil
}

func allocationCOGS(allocations []domain.AllocationDetail) decimal.Decimal {
	total := decimal.Zero
	for _, alloc := range allocations {
		total = total.Add(alloc.UnitCost.Mul(decimal.NewFromInt(int64(alloc.Quantity))))
	}
	return total
}

// serializableAttempts bounds the re-runs of an engine transaction that
// lost a serializable conflict. The re-run sees the winner's committed
// state and yields the taxonomy error (usually insufficient stock) instead
// of the raw serialization failure.
const serializableAttempts = 3

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func (s *Store) AllocateSale(ctx context.Context, sale domain.Sale) (*domain.SaleResult, error) {
	var result *domain.SaleResult
	var err error
	for attempt := 0; attempt < serializableAttempts; attempt++ {
		result, err = s.allocateSale(ctx, sale)
		if !isSerializationFailure(err) {
			break
		}
	}
	return result, err
}

func (s *Store) allocateSale(ctx context.Context, sale domain.Sale) (*domain.SaleResult, error) {
	if sale.ProductCode == "" || sale.Quantity < 1 || sale.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM products WHERE code = $1 AND is_deleted = false
	`, sale.ProductCode).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lots, available, err := lockEligibleBatches(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if available < sale.Quantity {
		return nil, &store.InsufficientStockError{ProductCode: sale.ProductCode, Requested: sale.Quantity, Available: available}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.ProductID = productID
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = sale.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, product_id, quantity, unit_price, sale_date, is_deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,false,$6,$7)
	`, sale.ID, sale.ProductID, sale.Quantity, sale.UnitPrice, sale.SaleDate, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return nil, err
	}

	allocations, err := allocateFIFO(ctx, tx, sale.ID, sale.ProductCode, sale.Quantity, lots)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.SaleResult{
		Sale:        sale,
		Allocations: allocations,
		COGS:        allocationCOGS(allocations),
	}, nil
}

func (s *Store) ReallocateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (*domain.SaleResult, error) {
	var result *domain.SaleResult
	var err error
	for attempt := 0; attempt < serializableAttempts; attempt++ {
		result, err = s.reallocateSale(ctx, saleID, req)
		if !isSerializationFailure(err) {
			break
		}
	}
	return result, err
}

func (s *Store) reallocateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (*domain.SaleResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sale domain.Sale
	err = tx.QueryRowContext(ctx, `
		SELECT s.id, s.product_id, p.code, s.quantity, s.unit_price, s.sale_date, s.created_at
		FROM sales s
		JOIN products p ON p.id = s.product_id
		WHERE s.id = $1 AND s.is_deleted = false
		FOR UPDATE OF s
	`, saleID).Scan(&sale.ID, &sale.ProductID, &sale.ProductCode, &sale.Quantity, &sale.UnitPrice, &sale.SaleDate, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SaleDate = sale.SaleDate.UTC()

	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		sale.Quantity = *req.Quantity
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		sale.UnitPrice = *req.UnitPrice
	}
	if req.SaleDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.SaleDate)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		sale.SaleDate = parsed
	}

	// Full reversal: give every previously drawn unit back to its batch,
	// then drop the old detail rows and re-run the FIFO walk from scratch.
	if err := restoreAllocations(ctx, tx, sale.ID, sale.ProductCode); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_allocations WHERE sale_id = $1`, sale.ID); err != nil {
		return nil, err
	}

	lots, available, err := lockEligibleBatches(ctx, tx, sale.ProductID)
	if err != nil {
		return nil, err
	}
	if available < sale.Quantity {
		return nil, &store.InsufficientStockError{ProductCode: sale.ProductCode, Requested: sale.Quantity, Available: available}
	}

	allocations, err := allocateFIFO(ctx, tx, sale.ID, sale.ProductCode, sale.Quantity, lots)
	if err != nil {
		return nil, err
	}

	sale.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET quantity = $2, unit_price = $3, sale_date = $4, updated_at = $5
		WHERE id = $1
	`, sale.ID, sale.Quantity, sale.UnitPrice, sale.SaleDate, sale.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.SaleResult{
		Sale:        sale,
		Allocations: allocations,
		COGS:        allocationCOGS(allocations),
	}, nil
}

// restoreAllocations returns drawn units to their batches. The guard keeps
// remaining_qty within original_qty even if an administrative correction
// moved the batch in the meantime; a violation aborts the transaction.
func restoreAllocations(ctx context.Context, tx *sql.Tx, saleID string, productCode string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT purchase_batch_id, quantity
		FROM sale_allocations
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return err
	}
	type drawn struct {
		batchRef string
		quantity int
	}
	restores := make([]drawn, 0, 4)
	for rows.Next() {
		var d drawn
		if err := rows.Scan(&d.batchRef, &d.quantity); err != nil {
			_ = rows.Close()
			return err
		}
		restores = append(restores, d)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, d := range restores {
		res, err := tx.ExecContext(ctx, `
			UPDATE purchase_batches
			SET remaining_qty = remaining_qty + $1, updated_at = now()
			WHERE id = $2 AND remaining_qty + $1 <= original_qty
		`, d.quantity, d.batchRef)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return &store.AllocationConsistencyError{ProductCode: productCode, Unfulfilled: d.quantity}
		}
	}
	return nil
}

func (s *Store) ReverseSale(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error) {
	var sale *domain.Sale
	var err error
	for attempt := 0; attempt < serializableAttempts; attempt++ {
		sale, err = s.reverseSale(ctx, saleID, at)
		if !isSerializationFailure(err) {
			break
		}
	}
	return sale, err
}

func (s *Store) reverseSale(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sale domain.Sale
	err = tx.QueryRowContext(ctx, `
		SELECT s.id, s.product_id, p.code, s.quantity, s.unit_price, s.sale_date, s.created_at
		FROM sales s
		JOIN products p ON p.id = s.product_id
		WHERE s.id = $1 AND s.is_deleted = false
		FOR UPDATE OF s
	`, saleID).Scan(&sale.ID, &sale.ProductID, &sale.ProductCode, &sale.Quantity, &sale.UnitPrice, &sale.SaleDate, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SaleDate = sale.SaleDate.UTC()

	// Full reversal on delete. The allocation rows stay behind as history;
	// they are invisible because their sale is tombstoned.
	if err := restoreAllocations(ctx, tx, sale.ID, sale.ProductCode); err != nil {
		return nil, err
	}

	deletedAt := at.UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE id = $1
	`, sale.ID, deletedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Deleted = true
	sale.DeletedAt = &deletedAt
	sale.UpdatedAt = deletedAt
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, productCode string) ([]domain.SaleResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.product_id, p.code, s.quantity, s.unit_price, s.sale_date, s.created_at, s.updated_at
		FROM sales s
		JOIN products p ON p.id = s.product_id
		WHERE s.is_deleted = false AND ($1 = '' OR p.code = $1)
		ORDER BY s.sale_date DESC, s.created_at DESC
	`, productCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.SaleResult, 0, 32)
	index := make(map[string]int, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.ProductCode, &sale.Quantity, &sale.UnitPrice, &sale.SaleDate, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
			return nil, err
		}
		sale.SaleDate = sale.SaleDate.UTC()
		index[sale.ID] = len(results)
		ids = append(ids, sale.ID)
		results = append(results, domain.SaleResult{Sale: sale, Allocations: []domain.AllocationDetail{}, COGS: decimal.Zero})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return results, nil
	}

	allocRows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.sale_id, a.purchase_batch_id, b.batch_id, a.quantity, a.unit_cost
		FROM sale_allocations a
		JOIN purchase_batches b ON b.id = a.purchase_batch_id
		WHERE a.sale_id = ANY($1)
		ORDER BY a.created_at ASC, a.id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer allocRows.Close()

	for allocRows.Next() {
		var alloc domain.AllocationDetail
		if err := allocRows.Scan(&alloc.ID, &alloc.SaleID, &alloc.BatchRef, &alloc.BatchID, &alloc.Quantity, &alloc.UnitCost); err != nil {
			return nil, err
		}
		if i, ok := index[alloc.SaleID]; ok {
			results[i].Allocations = append(results[i].Allocations, alloc)
			results[i].COGS = results[i].COGS.Add(alloc.UnitCost.Mul(decimal.NewFromInt(int64(alloc.Quantity))))
		}
	}
	if err := allocRows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.SaleResult, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.product_id, p.code, s.quantity, s.unit_price, s.sale_date, s.created_at, s.updated_at
		FROM sales s
		JOIN products p ON p.id = s.product_id
		WHERE s.id = $1 AND s.is_deleted = false
	`, saleID).Scan(&sale.ID, &sale.ProductID, &sale.ProductCode, &sale.Quantity, &sale.UnitPrice, &sale.SaleDate, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SaleDate = sale.SaleDate.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.sale_id, a.purchase_batch_id, b.batch_id, a.quantity, a.unit_cost
		FROM sale_allocations a
		JOIN purchase_batches b ON b.id = a.purchase_batch_id
		WHERE a.sale_id = $1
		ORDER BY a.created_at ASC, a.id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocations := make([]domain.AllocationDetail, 0, 4)
	for rows.Next() {
		var alloc domain.AllocationDetail
		if err := rows.Scan(&alloc.ID, &alloc.SaleID, &alloc.BatchRef, &alloc.BatchID, &alloc.Quantity, &alloc.UnitCost); err != nil {
			return nil, err
		}
		allocations = append(allocations, alloc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.SaleResult{
		Sale:        sale,
		Allocations: allocations,
		COGS:        allocationCOGS(allocations),
	}, nil
}

// ---- inventory query layer ----

func (s *Store) ProductStock(ctx context.Context, productCode string) (*domain.ProductStock, error) {
	product, err := s.GetActiveProductByCode(ctx, productCode)
	if err != nil {
		return nil, err
	}

	batches, err := s.ListEligibleBatchesFIFO(ctx, productCode)
	if err != nil {
		return nil, err
	}

	stock := &domain.ProductStock{
		ProductCode: product.Code,
		Description: product.Description,
		Brand:       product.Brand,
		FIFOValue:   decimal.Zero,
		Batches:     batches,
	}
	for _, b := range batches {
		stock.AvailableQty += b.RemainingQty
		stock.FIFOValue = stock.FIFOValue.Add(b.UnitCost.Mul(decimal.NewFromInt(int64(b.RemainingQty))))
	}
	return stock, nil
}

func (s *Store) StockReport(ctx context.Context) (*domain.StockReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.code, p.description, p.brand,
			b.id, b.batch_id, b.remaining_qty, b.unit_cost, b.purchase_date
		FROM products p
		LEFT JOIN purchase_batches b
			ON b.product_id = p.id AND b.is_deleted = false AND b.remaining_qty > 0
		WHERE p.is_deleted = false
		ORDER BY p.brand ASC, p.code ASC, b.purchase_date ASC, b.batch_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &domain.StockReport{
		GeneratedAt: time.Now().UTC(),
		TotalValue:  decimal.Zero,
		Products:    make([]domain.ProductStock, 0, 64),
	}
	index := make(map[string]int, 64)
	for rows.Next() {
		var (
			code, description, brand string
			batchRef, batchID        sql.NullString
			remainingQty             sql.NullInt64
			unitCost                 decimal.NullDecimal
			purchaseDate             sql.NullTime
		)
		if err := rows.Scan(&code, &description, &brand, &batchRef, &batchID, &remainingQty, &unitCost, &purchaseDate); err != nil {
			return nil, err
		}

		i, ok := index[code]
		if !ok {
			i = len(report.Products)
			index[code] = i
			report.Products = append(report.Products, domain.ProductStock{
				ProductCode: code,
				Description: description,
				Brand:       brand,
				FIFOValue:   decimal.Zero,
				Batches:     []domain.BatchStock{},
			})
		}
		if !batchRef.Valid {
			continue
		}

		batch := domain.BatchStock{
			BatchRef:     batchRef.String,
			BatchID:      batchID.String,
			RemainingQty: int(remainingQty.Int64),
			UnitCost:     unitCost.Decimal,
			PurchaseDate: purchaseDate.Time.UTC(),
		}
		report.Products[i].Batches = append(report.Products[i].Batches, batch)
		report.Products[i].AvailableQty += batch.RemainingQty
		value := batch.UnitCost.Mul(decimal.NewFromInt(int64(batch.RemainingQty)))
		report.Products[i].FIFOValue = report.Products[i].FIFOValue.Add(value)
		report.TotalValue = report.TotalValue.Add(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return report, nil
}

// ---- auth accounts ----

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
