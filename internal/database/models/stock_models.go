package models

import "time"

const (
	TxTypeReceive        = "RECEIVE"
	TxTypeDispense       = "DISPENSE"
	TxTypeTransferIn     = "TRANSFER_IN"
	TxTypeTransferOut    = "TRANSFER_OUT"
	TxTypeAdjustIncrease = "ADJUST_INCREASE"
	TxTypeAdjustDecrease = "ADJUST_DECREASE"
	TxTypeReturn         = "RETURN"
	TxTypeDispose        = "DISPOSE"
	TxTypeReserve        = "RESERVE"
	TxTypeRelease        = "RELEASE"
)

const (
	BatchStatusActive      = "ACTIVE"
	BatchStatusExpired     = "EXPIRED"
	BatchStatusQuarantined = "QUARANTINED"
	BatchStatusDisposed    = "DISPOSED"
)

// StockCard holds the running balance of one drug in one warehouse.
// AvailableStock is always CurrentStock - ReservedStock; it is stored for
// query convenience but only ever written alongside the other two.
type StockCard struct {
	ID             int64 `gorm:"primaryKey"`
	WarehouseID    int64 `gorm:"index;uniqueIndex:idx_stock_cards_wh_drug"`
	DrugID         int64 `gorm:"index;uniqueIndex:idx_stock_cards_wh_drug"`
	CurrentStock   int64 `gorm:"not null;default:0"`
	ReservedStock  int64 `gorm:"not null;default:0"`
	AvailableStock int64 `gorm:"not null;default:0"`
	ReorderPoint   int64 `gorm:"not null;default:0"`
	MaxStockLevel  int64 `gorm:"not null;default:0"`
	AverageCost    string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	TotalValue     string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	LowStockAlert  bool
	OverStockAlert bool
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Warehouse *Warehouse   `gorm:"foreignKey:WarehouseID"`
	Drug      *Drug        `gorm:"foreignKey:DrugID"`
	Batches   []StockBatch `gorm:"foreignKey:StockCardID"`
}

type StockBatch struct {
	ID          int64  `gorm:"primaryKey"`
	StockCardID int64  `gorm:"index"`
	BatchNumber string `gorm:"size:100;index"`
	CurrentQty  int64  `gorm:"not null;default:0"`
	ReservedQty int64  `gorm:"not null;default:0"`
	AvailableQty int64 `gorm:"not null;default:0"`
	UnitCost    string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	ExpiryDate  *time.Time
	Status      string `gorm:"size:20;not null;default:'ACTIVE';index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	StockCard *StockCard `gorm:"foreignKey:StockCardID"`
}

// StockTransaction is append-only. StockBefore/StockAfter are captured in
// the same database transaction as the card mutation they describe.
type StockTransaction struct {
	ID                int64  `gorm:"primaryKey"`
	StockCardID       int64  `gorm:"index"`
	WarehouseID       int64  `gorm:"index"`
	DrugID            int64  `gorm:"index"`
	TransactionType   string `gorm:"size:20;not null;index"`
	Quantity          int64  `gorm:"not null"`
	StockBefore       int64  `gorm:"not null"`
	StockAfter        int64  `gorm:"not null"`
	UnitCost          string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	TotalCost         string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	ReferenceDocument *string `gorm:"size:100"`
	ReferenceID       *int64  `gorm:"index"`
	Notes             *string `gorm:"size:255"`
	PerformedBy       int64
	TransactionDate   time.Time `gorm:"index"`
	CreatedAt         time.Time
}
