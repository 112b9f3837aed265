package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"medistock-system/internal/database/models"
)

// Entry describes one movement to append to the stock transaction log.
type Entry struct {
	TransactionType   string
	Quantity          int64
	UnitCost          decimal.Decimal
	ReferenceDocument *string
	ReferenceID       *int64
	Notes             *string
	PerformedBy       int64
}

// Record appends a StockTransaction for a mutation that just happened on
// the same tx. Before/after balances come from the Mutation, so they
// reflect exactly that operation rather than a later snapshot. There is no
// update or delete counterpart.
func (s *Service) Record(tx *gorm.DB, m *Mutation, e Entry) (*models.StockTransaction, error) {
	qty := e.Quantity
	total := e.UnitCost.Mul(decimal.NewFromInt(abs(qty)))
	row := &models.StockTransaction{
		StockCardID:       m.Card.ID,
		WarehouseID:       m.Card.WarehouseID,
		DrugID:            m.Card.DrugID,
		TransactionType:   e.TransactionType,
		Quantity:          qty,
		StockBefore:       m.StockBefore,
		StockAfter:        m.StockAfter,
		UnitCost:          e.UnitCost.StringFixed(2),
		TotalCost:         total.StringFixed(2),
		ReferenceDocument: e.ReferenceDocument,
		ReferenceID:       e.ReferenceID,
		Notes:             e.Notes,
		PerformedBy:       e.PerformedBy,
		TransactionDate:   time.Now(),
	}
	if err := tx.Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	StockCardID     *int64
	WarehouseID     *int64
	TransactionType *string
	From            *time.Time
	To              *time.Time
	Page            int
	PageSize        int
}

func (s *Service) ListTransactions(f TransactionFilter) ([]models.StockTransaction, int64, error) {
	query := s.db.Model(&models.StockTransaction{})

	if f.StockCardID != nil {
		query = query.Where("stock_card_id = ?", *f.StockCardID)
	}
	if f.WarehouseID != nil {
		query = query.Where("warehouse_id = ?", *f.WarehouseID)
	}
	if f.TransactionType != nil {
		query = query.Where("transaction_type = ?", *f.TransactionType)
	}
	if f.From != nil {
		query = query.Where("transaction_date >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("transaction_date < ?", *f.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}

	var rows []models.StockTransaction
	if err := query.Order("transaction_date DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
