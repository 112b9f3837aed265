package requisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medistock-system/internal/database/models"
	"medistock-system/internal/services/ledger"
)

const (
	FulfillActionPartial   = "partial"
	FulfillActionCompleted = "completed"
)

// FulfillLine dispenses against one requisition item. Zero quantities are
// skipped, not rejected.
type FulfillLine struct {
	ItemID            int64
	DispensedQuantity int64
	Notes             *string
}

// FulfillRequest carries the dispensing lines plus an optional idempotency
// key. Replays with the same key return the recorded outcome instead of
// dispensing again.
type FulfillRequest struct {
	Lines          []FulfillLine
	Comments       *string
	IdempotencyKey string
}

// FulfillResult reports whether the requisition completed and the value
// dispensed by this call.
type FulfillResult struct {
	Action         string
	DispensedValue string
	Requisition    *models.Requisition
}

// Fulfill applies partial or full dispensing against an approved
// requisition: ledger debit plus DISPENSE transaction per line, item
// completion at fulfilled >= approved, and header completion only when
// every item is complete (re-evaluated across all items, not just the
// ones touched here).
func (s *Service) Fulfill(ctx context.Context, requisitionID, fulfillerID int64, req FulfillRequest) (*FulfillResult, error) {
	for _, line := range req.Lines {
		if line.DispensedQuantity < 0 {
			return nil, fmt.Errorf("%w: dispensed quantity must not be negative, got %d",
				ErrValidation, line.DispensedQuantity)
		}
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if req.IdempotencyKey != "" {
		var receipt models.FulfillmentReceipt
		err := tx.Where("idempotency_key = ?", req.IdempotencyKey).First(&receipt).Error
		if err == nil {
			tx.Rollback()
			s.log.Info("replayed fulfillment receipt",
				zap.Int64("requisition_id", receipt.RequisitionID),
				zap.String("idempotency_key", req.IdempotencyKey))
			full, loadErr := s.load(receipt.RequisitionID)
			if loadErr != nil {
				return nil, loadErr
			}
			return &FulfillResult{Action: receipt.Action, DispensedValue: receipt.DispensedValue, Requisition: full}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			tx.Rollback()
			return nil, err
		}
	}

	requisition, err := s.loadForUpdate(tx, requisitionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if requisition.Status != models.ReqStatusApproved && requisition.Status != models.ReqStatusPartiallyFilled {
		tx.Rollback()
		return nil, fmt.Errorf("%w: cannot fulfill from %s", ErrInvalidState, requisition.Status)
	}
	prevStatus := requisition.Status

	itemsByID := make(map[int64]*models.RequisitionItem, len(requisition.Items))
	for i := range requisition.Items {
		itemsByID[requisition.Items[i].ID] = &requisition.Items[i]
	}

	now := time.Now()
	dispensedValue := decimal.Zero
	cardIDs := make([]int64, 0, len(req.Lines))

	for _, line := range req.Lines {
		if line.DispensedQuantity == 0 {
			continue
		}
		item, ok := itemsByID[line.ItemID]
		if !ok {
			tx.Rollback()
			return nil, fmt.Errorf("%w: item %d does not belong to requisition %d",
				ErrNotFound, line.ItemID, requisitionID)
		}
		if item.ApprovedQuantity == nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: item %d was never approved", ErrInvalidState, item.ID)
		}
		outstanding := *item.ApprovedQuantity - item.FulfilledQuantity
		if line.DispensedQuantity > outstanding {
			tx.Rollback()
			return nil, fmt.Errorf("%w: item %d has %d outstanding, cannot dispense %d",
				ErrValidation, item.ID, outstanding, line.DispensedQuantity)
		}

		mut, err := s.ledger.Debit(tx, item.StockCardID, line.DispensedQuantity)
		if err != nil {
			tx.Rollback()
			return nil, err
		}

		unitCost, _ := decimal.NewFromString(mut.Card.AverageCost)
		refDoc := requisition.RequisitionNumber
		if _, err := s.ledger.Record(tx, mut, ledger.Entry{
			TransactionType:   models.TxTypeDispense,
			Quantity:          -line.DispensedQuantity,
			UnitCost:          unitCost,
			ReferenceDocument: &refDoc,
			ReferenceID:       &requisition.ID,
			Notes:             line.Notes,
			PerformedBy:       fulfillerID,
		}); err != nil {
			tx.Rollback()
			return nil, err
		}

		item.FulfilledQuantity += line.DispensedQuantity
		itemStatus := models.ItemStatusApproved
		if item.FulfilledQuantity >= *item.ApprovedQuantity {
			itemStatus = models.ItemStatusFulfilled
		}
		item.Status = itemStatus
		if err := tx.Model(&models.RequisitionItem{}).Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"fulfilled_quantity": item.FulfilledQuantity,
				"status":             itemStatus,
				"updated_at":         now,
			}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		dispensedValue = dispensedValue.Add(unitCost.Mul(decimal.NewFromInt(line.DispensedQuantity)))
		cardIDs = append(cardIDs, item.StockCardID)
	}

	// Header completion looks at every item, so finishing one line while
	// another is still outstanding keeps the header partially filled. A call
	// that dispensed nothing leaves the header and the audit trail alone.
	newStatus := prevStatus
	action := FulfillActionPartial
	if len(cardIDs) > 0 {
		complete := true
		for i := range requisition.Items {
			item := &requisition.Items[i]
			if item.ApprovedQuantity == nil || item.FulfilledQuantity < *item.ApprovedQuantity {
				complete = false
				break
			}
		}
		newStatus = models.ReqStatusPartiallyFilled
		if complete {
			newStatus = models.ReqStatusCompleted
			action = FulfillActionCompleted
		}

		prevTotal, _ := decimal.NewFromString(requisition.TotalDispensedValue)
		newTotal := prevTotal.Add(dispensedValue)

		headerUpdates := map[string]interface{}{
			"status":                newStatus,
			"fulfiller_id":          fulfillerID,
			"total_dispensed_value": newTotal.StringFixed(2),
			"updated_at":            now,
		}
		if complete {
			headerUpdates["fulfilled_date"] = now
		}
		if err := tx.Model(requisition).Updates(headerUpdates).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		if err := s.appendWorkflow(tx, requisition.ID, prevStatus, newStatus,
			models.WorkflowActionFulfill, fulfillerID, req.Comments); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Create(&models.FulfillmentReceipt{
		RequisitionID:  requisition.ID,
		IdempotencyKey: key,
		Action:         action,
		DispensedValue: dispensedValue.StringFixed(2),
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.ledger.InvalidateCardCache(ctx, cardIDs...)
	s.invalidatePendingCache(ctx, requisition.HospitalID)

	full, err := s.load(requisitionID)
	if err != nil {
		return nil, err
	}
	return &FulfillResult{
		Action:         action,
		DispensedValue: dispensedValue.StringFixed(2),
		Requisition:    full,
	}, nil
}
