package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medistock-system/internal/database/models"
)

var (
	ErrCardNotFound          = errors.New("stock card not found")
	ErrInsufficientAvailable = errors.New("insufficient available stock")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrNegativeValue         = errors.New("negative value")
	ErrInvariantViolation    = errors.New("stock invariant violation")
)

// Service owns all writes to StockCard and StockBatch rows. Callers compose
// the mutation verbs inside their own gorm transaction; every verb leaves
// available_stock, total_value and the alert flags consistent with the
// change before it returns.
type Service struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.Logger
}

func NewService(db *gorm.DB, rdb *redis.Client, logger *zap.Logger) *Service {
	return &Service{db: db, rdb: rdb, log: logger}
}

// Mutation reports the card balance around a single ledger operation.
type Mutation struct {
	Card        *models.StockCard
	StockBefore int64
	StockAfter  int64
}

func (s *Service) GetCard(cardID int64) (*models.StockCard, error) {
	var card models.StockCard
	if err := s.db.Preload("Drug").Preload("Warehouse").Preload("Batches").
		First(&card, cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (s *Service) FindCard(tx *gorm.DB, warehouseID, drugID int64) (*models.StockCard, error) {
	var card models.StockCard
	if err := tx.Where("warehouse_id = ? AND drug_id = ?", warehouseID, drugID).
		First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// Reserve earmarks quantity for an approved-but-unfulfilled requisition.
// The availability check and the increment happen in one guarded UPDATE, so
// two reservations racing for the same card cannot both pass the check; the
// winning UPDATE holds the row lock until the surrounding tx commits.
func (s *Service) Reserve(tx *gorm.DB, cardID int64, quantity int64) (*Mutation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: reserve quantity must be positive, got %d", ErrNegativeValue, quantity)
	}

	res := tx.Model(&models.StockCard{}).
		Where("id = ? AND current_stock - reserved_stock >= ?", cardID, quantity).
		UpdateColumn("reserved_stock", gorm.Expr("reserved_stock + ?", quantity))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var c models.StockCard
		if err := tx.First(&c, cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCardNotFound
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: available %d, requested %d",
			ErrInsufficientAvailable, c.CurrentStock-c.ReservedStock, quantity)
	}

	card, err := s.refresh(tx, cardID)
	if err != nil {
		return nil, err
	}
	return &Mutation{Card: card, StockBefore: card.CurrentStock, StockAfter: card.CurrentStock}, nil
}

// Release returns reserved quantity to the available pool. Releasing more
// than is reserved means a caller accounting bug; it is logged and refused
// rather than clamped.
func (s *Service) Release(tx *gorm.DB, cardID int64, quantity int64) (*Mutation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: release quantity must be positive, got %d", ErrNegativeValue, quantity)
	}

	res := tx.Model(&models.StockCard{}).
		Where("id = ? AND reserved_stock >= ?", cardID, quantity).
		UpdateColumn("reserved_stock", gorm.Expr("reserved_stock - ?", quantity))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var c models.StockCard
		if err := tx.First(&c, cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCardNotFound
			}
			return nil, err
		}
		s.log.Error("release would drive reserved stock negative",
			zap.Int64("stock_card_id", cardID),
			zap.Int64("reserved", c.ReservedStock),
			zap.Int64("requested", quantity))
		return nil, fmt.Errorf("%w: reserved %d, release %d", ErrInvariantViolation, c.ReservedStock, quantity)
	}

	card, err := s.refresh(tx, cardID)
	if err != nil {
		return nil, err
	}
	return &Mutation{Card: card, StockBefore: card.CurrentStock, StockAfter: card.CurrentStock}, nil
}

// Debit removes dispensed quantity from both current and reserved stock:
// dispensing consumes the reservation made at approval.
func (s *Service) Debit(tx *gorm.DB, cardID int64, quantity int64) (*Mutation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: debit quantity must be positive, got %d", ErrNegativeValue, quantity)
	}

	res := tx.Model(&models.StockCard{}).
		Where("id = ? AND current_stock >= ? AND reserved_stock >= ?", cardID, quantity, quantity).
		UpdateColumns(map[string]interface{}{
			"current_stock":  gorm.Expr("current_stock - ?", quantity),
			"reserved_stock": gorm.Expr("reserved_stock - ?", quantity),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var c models.StockCard
		if err := tx.First(&c, cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCardNotFound
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: current %d, reserved %d, requested %d",
			ErrInsufficientStock, c.CurrentStock, c.ReservedStock, quantity)
	}

	card, err := s.refresh(tx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.consumeBatches(tx, cardID, quantity); err != nil {
		return nil, err
	}
	return &Mutation{Card: card, StockBefore: card.CurrentStock + quantity, StockAfter: card.CurrentStock}, nil
}

// Credit receives quantity into current stock and folds the incoming unit
// cost into the weighted-average cost. The card is created on first receive
// for a drug/warehouse pair.
func (s *Service) Credit(tx *gorm.DB, warehouseID, drugID int64, quantity int64, unitCost decimal.Decimal) (*Mutation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: credit quantity must be positive, got %d", ErrNegativeValue, quantity)
	}
	if unitCost.IsNegative() {
		return nil, fmt.Errorf("%w: unit cost %s", ErrNegativeValue, unitCost.String())
	}

	card, err := s.FindCard(tx, warehouseID, drugID)
	if errors.Is(err, ErrCardNotFound) {
		card = &models.StockCard{
			WarehouseID: warehouseID,
			DrugID:      drugID,
			AverageCost: "0.00",
			TotalValue:  "0.00",
		}
		if err := tx.Create(card).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	// The guarded UPDATE takes the row lock; balance and old cost for the
	// average-cost math are both read after it, never from the unlocked
	// lookup above.
	res := tx.Model(&models.StockCard{}).
		Where("id = ?", card.ID).
		UpdateColumn("current_stock", gorm.Expr("current_stock + ?", quantity))
	if res.Error != nil {
		return nil, res.Error
	}

	updated, err := s.refresh(tx, card.ID)
	if err != nil {
		return nil, err
	}

	before := updated.CurrentStock - quantity
	oldCost, _ := decimal.NewFromString(updated.AverageCost)
	oldQty := decimal.NewFromInt(before)
	inQty := decimal.NewFromInt(quantity)
	newAvg := unitCost
	if before > 0 {
		newAvg = oldQty.Mul(oldCost).Add(inQty.Mul(unitCost)).Div(oldQty.Add(inQty))
	}
	if err := s.writeDerived(tx, updated, newAvg); err != nil {
		return nil, err
	}

	return &Mutation{Card: updated, StockBefore: before, StockAfter: updated.CurrentStock}, nil
}

// AdjustParams carries the absolute values a manual correction sets.
type AdjustParams struct {
	NewCurrentStock int64
	NewReorderPoint int64
	NewUnitCost     decimal.Decimal
}

// Adjust applies a manual correction from the stock dashboard. It bypasses
// reservation logic but still refuses to cut current stock below what is
// already reserved.
func (s *Service) Adjust(tx *gorm.DB, cardID int64, p AdjustParams) (*Mutation, error) {
	if p.NewCurrentStock < 0 || p.NewReorderPoint < 0 || p.NewUnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: stock %d, reorder point %d, unit cost %s",
			ErrNegativeValue, p.NewCurrentStock, p.NewReorderPoint, p.NewUnitCost.String())
	}

	var card models.StockCard
	if err := lockForUpdate(tx).First(&card, cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}

	if p.NewCurrentStock < card.ReservedStock {
		s.log.Error("adjustment would cut current stock below reserved",
			zap.Int64("stock_card_id", cardID),
			zap.Int64("reserved", card.ReservedStock),
			zap.Int64("new_current", p.NewCurrentStock))
		return nil, fmt.Errorf("%w: reserved %d exceeds adjusted stock %d",
			ErrInvariantViolation, card.ReservedStock, p.NewCurrentStock)
	}

	before := card.CurrentStock
	card.CurrentStock = p.NewCurrentStock
	card.ReorderPoint = p.NewReorderPoint
	if err := tx.Model(&models.StockCard{}).Where("id = ?", cardID).
		UpdateColumns(map[string]interface{}{
			"current_stock": p.NewCurrentStock,
			"reorder_point": p.NewReorderPoint,
		}).Error; err != nil {
		return nil, err
	}
	if err := s.writeDerived(tx, &card, p.NewUnitCost); err != nil {
		return nil, err
	}

	return &Mutation{Card: &card, StockBefore: before, StockAfter: card.CurrentStock}, nil
}

// refresh reloads the card and rewrites its derived fields from the fresh
// balances, keeping the stored average cost.
func (s *Service) refresh(tx *gorm.DB, cardID int64) (*models.StockCard, error) {
	var card models.StockCard
	if err := tx.First(&card, cardID).Error; err != nil {
		return nil, err
	}
	avg, _ := decimal.NewFromString(card.AverageCost)
	if err := s.writeDerived(tx, &card, avg); err != nil {
		return nil, err
	}
	return &card, nil
}

func (s *Service) writeDerived(tx *gorm.DB, card *models.StockCard, avgCost decimal.Decimal) error {
	card.AvailableStock = card.CurrentStock - card.ReservedStock
	card.AverageCost = avgCost.StringFixed(2)
	card.TotalValue = decimal.NewFromInt(card.CurrentStock).Mul(avgCost).StringFixed(2)
	card.LowStockAlert = card.AvailableStock <= card.ReorderPoint
	card.OverStockAlert = card.MaxStockLevel > 0 && card.CurrentStock > card.MaxStockLevel
	card.UpdatedAt = time.Now()

	return tx.Model(&models.StockCard{}).Where("id = ?", card.ID).
		UpdateColumns(map[string]interface{}{
			"available_stock":  card.AvailableStock,
			"average_cost":     card.AverageCost,
			"total_value":      card.TotalValue,
			"low_stock_alert":  card.LowStockAlert,
			"over_stock_alert": card.OverStockAlert,
			"updated_at":       card.UpdatedAt,
		}).Error
}
