package inventory

import "inventoryhub/dashboard/internal/auth"

type Category struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	ProductCount int            `json:"product_count,omitempty"`
	CreatedAt    auth.Timestamp `json:"created_at"`
}

type Supplier struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	ContactInfo  string         `json:"contact_info,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Email        string         `json:"email,omitempty"`
	ProductCount int            `json:"product_count,omitempty"`
	CreatedAt    auth.Timestamp `json:"created_at"`
}

// Product mirrors the API record. Listings embed the category and supplier;
// write payloads carry only their ids.
type Product struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	SKU               string         `json:"sku"`
	Quantity          int            `json:"quantity"`
	Price             float64        `json:"price"`
	LowStockThreshold int            `json:"low_stock_threshold"`
	IsLowStock        bool           `json:"is_low_stock"`
	CategoryID        int64          `json:"category_id,omitempty"`
	SupplierID        int64          `json:"supplier_id,omitempty"`
	Category          *Category      `json:"category,omitempty"`
	Supplier          *Supplier      `json:"supplier,omitempty"`
	CreatedAt         auth.Timestamp `json:"created_at"`
	UpdatedAt         auth.Timestamp `json:"updated_at"`
}

func (p Product) categoryID() int64 {
	if p.Category != nil {
		return p.Category.ID
	}
	return p.CategoryID
}

type Transaction struct {
	ID         int64          `json:"id"`
	ProductID  int64          `json:"product_id,omitempty"`
	Product    *Product       `json:"product,omitempty"`
	UserID     int64          `json:"user_id,omitempty"`
	User       *auth.User     `json:"user,omitempty"`
	ActionType string         `json:"action_type"`
	Quantity   int            `json:"quantity"`
	Notes      string         `json:"notes,omitempty"`
	Timestamp  auth.Timestamp `json:"timestamp"`
}

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionUpdate = "update"
)

type TransactionInput struct {
	ProductID  int64  `json:"product_id"`
	ActionType string `json:"action_type"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
}

type CategoryCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Stats is the dashboard overview.
type Stats struct {
	TotalProducts        int             `json:"total_products"`
	TotalValue           float64         `json:"total_value"`
	LowStockCount        int             `json:"low_stock_count"`
	TotalCategories      int             `json:"total_categories"`
	RecentTransactions   []Transaction   `json:"recent_transactions"`
	CategoryDistribution []CategoryCount `json:"category_distribution"`
	LowStockProducts     []Product       `json:"low_stock_products"`
}
