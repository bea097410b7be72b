package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusvidal/solara-backend/pkg/enums"
)

// Product represents a seller listing. StockQuantity is the single source
// of truth for availability and is only mutated through guarded updates.
type Product struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID      uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	SKU           string              `gorm:"column:sku;not null"`
	Name          string              `gorm:"column:name;not null"`
	Description   *string             `gorm:"column:description"`
	Price         decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null"`
	StockQuantity int                 `gorm:"column:stock_quantity;not null;default:0"`
	Status        enums.ProductStatus `gorm:"column:status;type:text;not null;default:'pending_review'"`
	IsActive      bool                `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsPurchasable reports whether the listing can be checked out at all.
// Stock is checked separately, under the checkout transaction.
func (p Product) IsPurchasable() bool {
	return p.IsActive && p.Status == enums.ProductStatusApproved
}
