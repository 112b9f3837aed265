package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"medistock-system/internal/database/models"
)

const (
	stockCardCachePrefix = "stock:card:"
	stockCacheTTL        = 5 * time.Minute
)

// ReceiveRequest books incoming stock into a warehouse, creating the stock
// card on first receive and optionally a dated batch for expiry tracking.
type ReceiveRequest struct {
	WarehouseID int64
	DrugID      int64
	Quantity    int64
	UnitCost    decimal.Decimal
	BatchNumber string
	ExpiryDate  *time.Time
	Notes       *string
}

func (s *Service) Receive(ctx context.Context, req ReceiveRequest, userID int64) (*models.StockCard, error) {
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	mut, err := s.Credit(tx, req.WarehouseID, req.DrugID, req.Quantity, req.UnitCost)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	batchNumber := req.BatchNumber
	if batchNumber == "" {
		batchNumber = fmt.Sprintf("RCV%s", time.Now().Format("20060102150405"))
	}
	if _, err := s.AddBatch(tx, mut.Card.ID, batchNumber, req.Quantity, req.UnitCost, req.ExpiryDate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if _, err := s.Record(tx, mut, Entry{
		TransactionType: models.TxTypeReceive,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		Notes:           req.Notes,
		PerformedBy:     userID,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.invalidateCardCache(ctx, mut.Card.ID)
	return mut.Card, nil
}

// TransferRequest moves available (unreserved) stock between warehouses.
type TransferRequest struct {
	DrugID          int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        int64
	Notes           *string
}

func (s *Service) Transfer(ctx context.Context, req TransferRequest, userID int64) ([]models.StockTransaction, error) {
	if req.FromWarehouseID == req.ToWarehouseID {
		return nil, fmt.Errorf("%w: cannot transfer to the same warehouse", ErrNegativeValue)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: transfer quantity must be positive, got %d", ErrNegativeValue, req.Quantity)
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	fromCard, err := s.FindCard(tx, req.FromWarehouseID, req.DrugID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Only unreserved stock may leave the source warehouse.
	res := tx.Model(&models.StockCard{}).
		Where("id = ? AND current_stock - reserved_stock >= ?", fromCard.ID, req.Quantity).
		UpdateColumn("current_stock", gorm.Expr("current_stock - ?", req.Quantity))
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, fmt.Errorf("%w: available %d, requested %d",
			ErrInsufficientAvailable, fromCard.CurrentStock-fromCard.ReservedStock, req.Quantity)
	}

	fromAfter, err := s.refresh(tx, fromCard.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.consumeBatches(tx, fromCard.ID, req.Quantity); err != nil {
		tx.Rollback()
		return nil, err
	}

	unitCost, _ := decimal.NewFromString(fromAfter.AverageCost)
	toMut, err := s.Credit(tx, req.ToWarehouseID, req.DrugID, req.Quantity, unitCost)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	transferRef := fmt.Sprintf("TRF-%s", uuid.NewString())
	outMut := &Mutation{Card: fromAfter, StockBefore: fromAfter.CurrentStock + req.Quantity, StockAfter: fromAfter.CurrentStock}

	outRow, err := s.Record(tx, outMut, Entry{
		TransactionType:   models.TxTypeTransferOut,
		Quantity:          -req.Quantity,
		UnitCost:          unitCost,
		ReferenceDocument: &transferRef,
		Notes:             req.Notes,
		PerformedBy:       userID,
	})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	inRow, err := s.Record(tx, toMut, Entry{
		TransactionType:   models.TxTypeTransferIn,
		Quantity:          req.Quantity,
		UnitCost:          unitCost,
		ReferenceDocument: &transferRef,
		Notes:             req.Notes,
		PerformedBy:       userID,
	})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.invalidateCardCache(ctx, fromAfter.ID, toMut.Card.ID)
	return []models.StockTransaction{*outRow, *inRow}, nil
}

// AdjustStock applies a dashboard correction as one atomic unit and records
// the direction of the change.
func (s *Service) AdjustStock(ctx context.Context, cardID int64, p AdjustParams, userID int64, notes *string) (*models.StockCard, error) {
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	mut, err := s.Adjust(tx, cardID, p)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	delta := mut.StockAfter - mut.StockBefore
	if delta != 0 {
		txType := models.TxTypeAdjustIncrease
		if delta < 0 {
			txType = models.TxTypeAdjustDecrease
		}
		if _, err := s.Record(tx, mut, Entry{
			TransactionType: txType,
			Quantity:        delta,
			UnitCost:        p.NewUnitCost,
			Notes:           notes,
			PerformedBy:     userID,
		}); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.invalidateCardCache(ctx, cardID)
	return mut.Card, nil
}

// ListLowStock returns cards at or below their own reorder point.
func (s *Service) ListLowStock(warehouseID *int64, page, pageSize int) ([]models.StockCard, int64, error) {
	query := s.db.Model(&models.StockCard{}).Preload("Drug").Preload("Warehouse").
		Where("low_stock_alert = ?", true)
	if warehouseID != nil && *warehouseID != 0 {
		query = query.Where("warehouse_id = ?", *warehouseID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if pageSize <= 0 {
		pageSize = 50
	}
	if page <= 0 {
		page = 1
	}

	var cards []models.StockCard
	if err := query.Order("available_stock ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&cards).Error; err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// GetCardCached serves the card snapshot from redis when fresh, falling
// back to the database and repopulating the cache.
func (s *Service) GetCardCached(ctx context.Context, cardID int64) (*models.StockCard, error) {
	key := fmt.Sprintf("%s%d", stockCardCachePrefix, cardID)
	if s.rdb != nil {
		if payload, err := s.rdb.Get(ctx, key).Result(); err == nil {
			var card models.StockCard
			if json.Unmarshal([]byte(payload), &card) == nil {
				return &card, nil
			}
		}
	}

	card, err := s.GetCard(cardID)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if payload, err := json.Marshal(card); err == nil {
			_ = s.rdb.Set(ctx, key, payload, stockCacheTTL).Err()
		}
	}
	return card, nil
}

// InvalidateCardCache is exported for callers (the requisition workflow)
// that mutate cards through composed ledger verbs on their own tx.
func (s *Service) InvalidateCardCache(ctx context.Context, cardIDs ...int64) {
	s.invalidateCardCache(ctx, cardIDs...)
}

func (s *Service) invalidateCardCache(ctx context.Context, cardIDs ...int64) {
	if s.rdb == nil {
		return
	}
	for _, id := range cardIDs {
		_ = s.rdb.Del(ctx, fmt.Sprintf("%s%d", stockCardCachePrefix, id)).Err()
	}
}
