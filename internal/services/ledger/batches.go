package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medistock-system/internal/database/models"
)

// lockForUpdate applies a pessimistic row lock on dialects that support it.
// SQLite (used by the test suite) serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// AddBatch records a received lot under a stock card. Batch quantities are
// advisory detail for expiry management; the card balance stays
// authoritative.
func (s *Service) AddBatch(tx *gorm.DB, cardID int64, batchNumber string, quantity int64, unitCost decimal.Decimal, expiry *time.Time) (*models.StockBatch, error) {
	batch := &models.StockBatch{
		StockCardID:  cardID,
		BatchNumber:  batchNumber,
		CurrentQty:   quantity,
		AvailableQty: quantity,
		UnitCost:     unitCost.StringFixed(2),
		ExpiryDate:   expiry,
		Status:       models.BatchStatusActive,
	}
	if err := tx.Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// consumeBatches walks active batches first-expiry-first and decrements
// them until the dispensed quantity is covered. A shortfall against the
// card balance is a reconciliation gap, not an error: manual adjustments
// move the card without touching batches.
func (s *Service) consumeBatches(tx *gorm.DB, cardID int64, quantity int64) error {
	var batches []models.StockBatch
	if err := tx.Where("stock_card_id = ? AND status = ? AND current_qty > 0", cardID, models.BatchStatusActive).
		Order("expiry_date ASC NULLS LAST, id ASC").
		Find(&batches).Error; err != nil {
		return err
	}

	remaining := quantity
	for i := range batches {
		if remaining <= 0 {
			break
		}
		take := batches[i].CurrentQty
		if take > remaining {
			take = remaining
		}
		batches[i].CurrentQty -= take
		batches[i].AvailableQty = batches[i].CurrentQty - batches[i].ReservedQty
		if batches[i].AvailableQty < 0 {
			batches[i].AvailableQty = 0
		}
		if err := tx.Model(&models.StockBatch{}).Where("id = ?", batches[i].ID).
			UpdateColumns(map[string]interface{}{
				"current_qty":   batches[i].CurrentQty,
				"available_qty": batches[i].AvailableQty,
			}).Error; err != nil {
			return err
		}
		remaining -= take
	}

	if remaining > 0 {
		s.log.Warn("batch quantities do not cover dispense, card stays authoritative",
			zap.Int64("stock_card_id", cardID),
			zap.Int64("uncovered", remaining))
	}
	return nil
}

// ExpireBatches marks past-date active batches EXPIRED so they no longer
// count toward batch-level availability. Returns the number of batches
// flipped.
func (s *Service) ExpireBatches(now time.Time) (int64, error) {
	res := s.db.Model(&models.StockBatch{}).
		Where("status = ? AND expiry_date IS NOT NULL AND expiry_date < ?", models.BatchStatusActive, now).
		UpdateColumns(map[string]interface{}{
			"status":        models.BatchStatusExpired,
			"available_qty": 0,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("expired stock batches", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
