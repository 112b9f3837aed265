package requisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medistock-system/internal/database/models"
	"medistock-system/internal/services/ledger"
)

var (
	ErrNotFound        = errors.New("requisition not found")
	ErrInvalidState    = errors.New("invalid requisition state")
	ErrMissingReason   = errors.New("reason is required")
	ErrValidation      = errors.New("validation error")
	ErrDuplicateNumber = errors.New("duplicate requisition number")
)

const (
	pendingCachePrefix = "requisition:pending:"
	pendingCacheTTL    = 5 * time.Minute
)

// Service owns the requisition state machine. Every operation runs as one
// database transaction spanning the requisition rows, the stock card
// mutations it causes, the stock transaction log and the workflow audit
// row; a failure anywhere rolls the whole unit back.
type Service struct {
	db     *gorm.DB
	rdb    *redis.Client
	ledger *ledger.Service
	log    *zap.Logger
}

func NewService(db *gorm.DB, rdb *redis.Client, ledgerSvc *ledger.Service, logger *zap.Logger) *Service {
	return &Service{db: db, rdb: rdb, ledger: ledgerSvc, log: logger}
}

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// CreateItem is one requested drug line.
type CreateItem struct {
	DrugID   int64
	Quantity int64
	Notes    *string
}

// CreateRequest carries the requisition header and lines.
type CreateRequest struct {
	Type                   string
	Priority               string
	RequestingDepartmentID int64
	FulfillmentWarehouseID int64
	RequiredDate           *time.Time
	Notes                  *string
	SaveAsDraft            bool
	Items                  []CreateItem
}

// Create writes the header and items in one unit. No stock is reserved
// here; reservation happens at approval.
func (s *Service) Create(ctx context.Context, hospitalID, requesterID int64, req CreateRequest) (*models.Requisition, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	status := models.ReqStatusSubmitted
	if req.SaveAsDraft {
		status = models.ReqStatusDraft
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	number, err := s.nextNumber(tx, hospitalID, req.Type)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	requisition := &models.Requisition{
		HospitalID:             hospitalID,
		RequisitionNumber:      number,
		RequisitionType:        req.Type,
		Priority:               req.Priority,
		Status:                 status,
		RequestingDepartmentID: req.RequestingDepartmentID,
		FulfillmentWarehouseID: req.FulfillmentWarehouseID,
		RequesterID:            requesterID,
		RequestedDate:          time.Now(),
		RequiredDate:           req.RequiredDate,
		Notes:                  req.Notes,
		TotalDispensedValue:    "0.00",
	}
	if err := tx.Create(requisition).Error; err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
		}
		return nil, err
	}

	for _, it := range req.Items {
		// A drug cannot be requisitioned from a warehouse that has never
		// stocked it.
		card, err := s.ledger.FindCard(tx, req.FulfillmentWarehouseID, it.DrugID)
		if err != nil {
			tx.Rollback()
			if errors.Is(err, ledger.ErrCardNotFound) {
				return nil, fmt.Errorf("%w: no stock card for drug %d in warehouse %d",
					ErrNotFound, it.DrugID, req.FulfillmentWarehouseID)
			}
			return nil, err
		}
		item := &models.RequisitionItem{
			RequisitionID:     requisition.ID,
			DrugID:            it.DrugID,
			StockCardID:       card.ID,
			RequestedQuantity: it.Quantity,
			Status:            models.ItemStatusPending,
			UnitCost:          "0.00",
			TotalCost:         "0.00",
			Notes:             it.Notes,
		}
		if err := tx.Create(item).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	action := models.WorkflowActionCreate
	if status == models.ReqStatusSubmitted {
		action = models.WorkflowActionSubmit
	}
	if err := s.appendWorkflow(tx, requisition.ID, "", status, action, requesterID, nil); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.invalidatePendingCache(ctx, hospitalID)
	return s.load(requisition.ID)
}

// Submit moves a draft into the approval queue.
func (s *Service) Submit(ctx context.Context, requisitionID, userID int64) (*models.Requisition, error) {
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	requisition, err := s.loadForUpdate(tx, requisitionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if requisition.Status != models.ReqStatusDraft {
		tx.Rollback()
		return nil, fmt.Errorf("%w: cannot submit from %s", ErrInvalidState, requisition.Status)
	}

	if err := tx.Model(requisition).Updates(map[string]interface{}{
		"status":     models.ReqStatusSubmitted,
		"updated_at": time.Now(),
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.appendWorkflow(tx, requisition.ID, models.ReqStatusDraft, models.ReqStatusSubmitted,
		models.WorkflowActionSubmit, userID, nil); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.invalidatePendingCache(ctx, requisition.HospitalID)
	return s.load(requisitionID)
}

// Approve reserves stock for every item, all or nothing. A reservation
// failure on any item aborts the whole approval and the requisition stays
// SUBMITTED.
func (s *Service) Approve(ctx context.Context, requisitionID, approverID int64, overrides map[int64]int64) (*models.Requisition, error) {
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	requisition, err := s.loadForUpdate(tx, requisitionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if requisition.Status != models.ReqStatusSubmitted {
		tx.Rollback()
		return nil, fmt.Errorf("%w: cannot approve from %s", ErrInvalidState, requisition.Status)
	}

	now := time.Now()
	cardIDs := make([]int64, 0, len(requisition.Items))
	for i := range requisition.Items {
		item := &requisition.Items[i]

		approvedQty := item.RequestedQuantity
		if qty, ok := overrides[item.ID]; ok {
			approvedQty = qty
		}
		if approvedQty <= 0 {
			tx.Rollback()
			return nil, fmt.Errorf("%w: approved quantity for item %d must be positive", ErrValidation, item.ID)
		}

		mut, err := s.ledger.Reserve(tx, item.StockCardID, approvedQty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}

		unitCost, _ := decimal.NewFromString(mut.Card.AverageCost)
		refDoc := requisition.RequisitionNumber
		if _, err := s.ledger.Record(tx, mut, ledger.Entry{
			TransactionType:   models.TxTypeReserve,
			Quantity:          approvedQty,
			UnitCost:          unitCost,
			ReferenceDocument: &refDoc,
			ReferenceID:       &requisition.ID,
			PerformedBy:       approverID,
		}); err != nil {
			tx.Rollback()
			return nil, err
		}

		totalCost := unitCost.Mul(decimal.NewFromInt(approvedQty))
		if err := tx.Model(&models.RequisitionItem{}).Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"approved_quantity": approvedQty,
				"status":            models.ItemStatusApproved,
				"unit_cost":         unitCost.StringFixed(2),
				"total_cost":        totalCost.StringFixed(2),
				"updated_at":        now,
			}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		cardIDs = append(cardIDs, item.StockCardID)
	}

	if err := tx.Model(requisition).Updates(map[string]interface{}{
		"status":        models.ReqStatusApproved,
		"approver_id":   approverID,
		"approved_date": now,
		"updated_at":    now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.appendWorkflow(tx, requisition.ID, models.ReqStatusSubmitted, models.ReqStatusApproved,
		models.WorkflowActionApprove, approverID, nil); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.ledger.InvalidateCardCache(ctx, cardIDs...)
	s.invalidatePendingCache(ctx, requisition.HospitalID)
	return s.load(requisitionID)
}

// Reject is only legal from SUBMITTED, where no reservation exists yet.
func (s *Service) Reject(ctx context.Context, requisitionID, approverID int64, reason string) (*models.Requisition, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrMissingReason
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	requisition, err := s.loadForUpdate(tx, requisitionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if requisition.Status != models.ReqStatusSubmitted {
		tx.Rollback()
		return nil, fmt.Errorf("%w: cannot reject from %s", ErrInvalidState, requisition.Status)
	}

	now := time.Now()
	if err := tx.Model(&models.RequisitionItem{}).Where("requisition_id = ?", requisition.ID).
		Updates(map[string]interface{}{"status": models.ItemStatusRejected, "updated_at": now}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(requisition).Updates(map[string]interface{}{
		"status":           models.ReqStatusRejected,
		"approver_id":      approverID,
		"rejection_reason": reason,
		"updated_at":       now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.appendWorkflow(tx, requisition.ID, models.ReqStatusSubmitted, models.ReqStatusRejected,
		models.WorkflowActionReject, approverID, &reason); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.invalidatePendingCache(ctx, requisition.HospitalID)
	return s.load(requisitionID)
}

// Cancel is legal from DRAFT, SUBMITTED, APPROVED and PARTIALLY_FILLED.
// Outstanding reservations (approved minus fulfilled) are released before
// the terminal status is written.
func (s *Service) Cancel(ctx context.Context, requisitionID, userID int64, reason *string) (*models.Requisition, error) {
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	requisition, err := s.loadForUpdate(tx, requisitionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	prevStatus := requisition.Status
	switch prevStatus {
	case models.ReqStatusDraft, models.ReqStatusSubmitted, models.ReqStatusApproved, models.ReqStatusPartiallyFilled:
	default:
		tx.Rollback()
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidState, prevStatus)
	}

	now := time.Now()
	cardIDs := make([]int64, 0, len(requisition.Items))
	releasing := prevStatus == models.ReqStatusApproved || prevStatus == models.ReqStatusPartiallyFilled

	for i := range requisition.Items {
		item := &requisition.Items[i]

		if releasing && item.ApprovedQuantity != nil {
			outstanding := *item.ApprovedQuantity - item.FulfilledQuantity
			if outstanding > 0 {
				mut, err := s.ledger.Release(tx, item.StockCardID, outstanding)
				if err != nil {
					tx.Rollback()
					return nil, err
				}
				unitCost, _ := decimal.NewFromString(item.UnitCost)
				refDoc := requisition.RequisitionNumber
				if _, err := s.ledger.Record(tx, mut, ledger.Entry{
					TransactionType:   models.TxTypeRelease,
					Quantity:          outstanding,
					UnitCost:          unitCost,
					ReferenceDocument: &refDoc,
					ReferenceID:       &requisition.ID,
					PerformedBy:       userID,
				}); err != nil {
					tx.Rollback()
					return nil, err
				}
				cardIDs = append(cardIDs, item.StockCardID)
			}
		}

		if item.Status != models.ItemStatusFulfilled {
			if err := tx.Model(&models.RequisitionItem{}).Where("id = ?", item.ID).
				Updates(map[string]interface{}{"status": models.ItemStatusCancelled, "updated_at": now}).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if err := tx.Model(requisition).Updates(map[string]interface{}{
		"status":     models.ReqStatusCancelled,
		"updated_at": now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.appendWorkflow(tx, requisition.ID, prevStatus, models.ReqStatusCancelled,
		models.WorkflowActionCancel, userID, reason); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.ledger.InvalidateCardCache(ctx, cardIDs...)
	s.invalidatePendingCache(ctx, requisition.HospitalID)
	return s.load(requisitionID)
}

// Get returns the full aggregate with items and ordered workflow history.
func (s *Service) Get(requisitionID int64) (*models.Requisition, error) {
	return s.load(requisitionID)
}

func (s *Service) load(requisitionID int64) (*models.Requisition, error) {
	var requisition models.Requisition
	err := s.db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("requisition_items.id ASC") }).
		Preload("Items.Drug").
		Preload("WorkflowHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("requisition_workflows.processed_at ASC, requisition_workflows.id ASC")
		}).
		First(&requisition, requisitionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &requisition, nil
}

func (s *Service) loadForUpdate(tx *gorm.DB, requisitionID int64) (*models.Requisition, error) {
	var requisition models.Requisition
	if err := lockForUpdate(tx).First(&requisition, requisitionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := tx.Where("requisition_id = ?", requisitionID).Order("id ASC").
		Find(&requisition.Items).Error; err != nil {
		return nil, err
	}
	return &requisition, nil
}

func (s *Service) appendWorkflow(tx *gorm.DB, requisitionID int64, from, to, action string, userID int64, comments *string) error {
	return tx.Create(&models.RequisitionWorkflow{
		RequisitionID: requisitionID,
		FromStatus:    from,
		ToStatus:      to,
		Action:        action,
		UserID:        userID,
		Comments:      comments,
		ProcessedAt:   time.Now(),
	}).Error
}

func validateCreate(req *CreateRequest) error {
	switch req.Type {
	case models.ReqTypeRegular, models.ReqTypeEmergency, models.ReqTypeScheduled, models.ReqTypeReturn:
	case "":
		req.Type = models.ReqTypeRegular
	default:
		return fmt.Errorf("%w: unknown requisition type %q", ErrValidation, req.Type)
	}
	switch req.Priority {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
	case "":
		req.Priority = models.PriorityNormal
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, req.Priority)
	}
	if req.RequestingDepartmentID == 0 {
		return fmt.Errorf("%w: requesting department is required", ErrValidation)
	}
	if req.FulfillmentWarehouseID == 0 {
		return fmt.Errorf("%w: fulfillment warehouse is required", ErrValidation)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for _, it := range req.Items {
		if it.DrugID == 0 {
			return fmt.Errorf("%w: item drug id is required", ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive, got %d", ErrValidation, it.Quantity)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

func (s *Service) invalidatePendingCache(ctx context.Context, hospitalID int64) {
	if s.rdb == nil {
		return
	}
	_ = s.rdb.Del(ctx, fmt.Sprintf("%s%d", pendingCachePrefix, hospitalID)).Err()
}
