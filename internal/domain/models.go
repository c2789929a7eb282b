package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Code is unique among non-deleted products and
// immutable except via a controlled rename on update. Deleted products are
// tombstones: invisible to new purchases and sales, still referenced by
// historical records.
type Product struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	Brand        string          `json:"brand"`
	Size         string          `json:"size,omitempty"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Deleted      bool            `json:"deleted"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	Brand        string          `json:"brand"`
	Size         string          `json:"size"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

type ProductUpdateRequest struct {
	Code         *string          `json:"code,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Brand        *string          `json:"brand,omitempty"`
	Size         *string          `json:"size,omitempty"`
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
}

// ProductWithBatches is the catalog listing shape: a product plus its
// non-deleted batches, newest first (display order, not allocation order).
type ProductWithBatches struct {
	Product
	Batches []PurchaseBatch `json:"batches"`
}

// PurchaseBatch is one received lot of a product. OriginalQty is fixed at
// creation; RemainingQty moves only through the allocation engine or an
// administrative correction, and always satisfies
// 0 <= RemainingQty <= OriginalQty. A batch is eligible for allocation iff
// RemainingQty > 0 and it is not deleted.
type PurchaseBatch struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	ProductCode  string          `json:"product_code"`
	BatchID      string          `json:"batch_id"`
	OriginalQty  int             `json:"original_qty"`
	RemainingQty int             `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	PurchaseDate time.Time       `json:"purchase_date"`
	Deleted      bool            `json:"deleted"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type PurchaseCreateRequest struct {
	ProductCode  string          `json:"product_code"`
	BatchID      string          `json:"batch_id"`
	Quantity     int             `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	PurchaseDate string          `json:"purchase_date"`
}

// PurchaseUpdateRequest edits batch metadata. Cost and date edits never
// rewrite historical allocation costs (those are frozen snapshots).
// RemainingQty is an administrative correction and is rejected unless the
// new value stays within [0, OriginalQty].
type PurchaseUpdateRequest struct {
	BatchID      *string          `json:"batch_id,omitempty"`
	UnitCost     *decimal.Decimal `json:"unit_cost,omitempty"`
	PurchaseDate *string          `json:"purchase_date,omitempty"`
	RemainingQty *int             `json:"remaining_qty,omitempty"`
}

// Sale is one outgoing sale event. It owns its allocation rows: they are
// created only by a successful allocation and changed only through the
// sale's own edit (full reversal + re-allocation) or delete (full reversal).
type Sale struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductCode string          `json:"product_code"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	SaleDate    time.Time       `json:"sale_date"`
	Deleted     bool            `json:"deleted"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AllocationDetail records how many units a sale drew from one batch and the
// batch's unit cost at allocation time. The cost is a frozen snapshot: later
// batch cost edits do not change historical COGS.
type AllocationDetail struct {
	ID       string          `json:"id"`
	SaleID   string          `json:"sale_id"`
	BatchRef string          `json:"batch_ref"`
	BatchID  string          `json:"batch_id"`
	Quantity int             `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type SaleCreateRequest struct {
	ProductCode string          `json:"product_code"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	SaleDate    string          `json:"sale_date"`
}

// SaleUpdateRequest edits a committed sale. A quantity change reverses the
// original allocation and re-runs the FIFO walk at the new quantity inside
// the same transaction; price and date ride along in the same update.
type SaleUpdateRequest struct {
	Quantity  *int             `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	SaleDate  *string          `json:"sale_date,omitempty"`
}

// SaleResult is the engine's output: the committed sale header, its
// allocation breakdown in FIFO order, and the cost of goods sold computed
// from the frozen per-allocation costs.
type SaleResult struct {
	Sale        Sale               `json:"sale"`
	Allocations []AllocationDetail `json:"allocations"`
	COGS        decimal.Decimal    `json:"cogs"`
}

// BatchStock is one eligible batch inside a stock view, in FIFO order.
type BatchStock struct {
	BatchRef     string          `json:"batch_ref"`
	BatchID      string          `json:"batch_id"`
	RemainingQty int             `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	PurchaseDate time.Time       `json:"purchase_date"`
}

// ProductStock is the derived read-side view of one product's ledger:
// available quantity, FIFO-ordered batch breakdown, and FIFO-valued cost
// (sum of remaining × unit cost over eligible batches). It is recomputed
// from batch state on every query and is never an input to allocation.
type ProductStock struct {
	ProductCode  string          `json:"product_code"`
	Description  string          `json:"description"`
	Brand        string          `json:"brand"`
	AvailableQty int             `json:"available_qty"`
	FIFOValue    decimal.Decimal `json:"fifo_value"`
	Batches      []BatchStock    `json:"batches"`
}

type StockReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Products    []ProductStock  `json:"products"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Entities the CSV exporter can render.
const (
	ExportProducts  = "products"
	ExportPurchases = "purchases"
	ExportSales     = "sales"
)
