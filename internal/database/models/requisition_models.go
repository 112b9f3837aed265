package models

import "time"

const (
	ReqTypeRegular   = "REGULAR"
	ReqTypeEmergency = "EMERGENCY"
	ReqTypeScheduled = "SCHEDULED"
	ReqTypeReturn    = "RETURN"
)

const (
	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

const (
	ReqStatusDraft           = "DRAFT"
	ReqStatusSubmitted       = "SUBMITTED"
	ReqStatusApproved        = "APPROVED"
	ReqStatusRejected        = "REJECTED"
	ReqStatusPartiallyFilled = "PARTIALLY_FILLED"
	ReqStatusCompleted       = "COMPLETED"
	ReqStatusCancelled       = "CANCELLED"
)

const (
	ItemStatusPending   = "PENDING"
	ItemStatusApproved  = "APPROVED"
	ItemStatusFulfilled = "FULFILLED"
	ItemStatusRejected  = "REJECTED"
	ItemStatusCancelled = "CANCELLED"
)

const (
	WorkflowActionCreate  = "CREATE"
	WorkflowActionSubmit  = "SUBMIT"
	WorkflowActionApprove = "APPROVE"
	WorkflowActionReject  = "REJECT"
	WorkflowActionCancel  = "CANCEL"
	WorkflowActionFulfill = "FULFILL"
)

type Requisition struct {
	ID                     int64  `gorm:"primaryKey"`
	HospitalID             int64  `gorm:"index;uniqueIndex:idx_requisitions_hospital_number"`
	RequisitionNumber      string `gorm:"size:100;not null;uniqueIndex:idx_requisitions_hospital_number"`
	RequisitionType        string `gorm:"size:20;not null;index"`
	Priority               string `gorm:"size:20;not null;default:'NORMAL'"`
	Status                 string `gorm:"size:20;not null;index"`
	RequestingDepartmentID int64  `gorm:"index"`
	FulfillmentWarehouseID int64  `gorm:"index"`
	RequesterID            int64
	ApproverID             *int64
	FulfillerID            *int64
	RequestedDate          time.Time
	RequiredDate           *time.Time
	ApprovedDate           *time.Time
	FulfilledDate          *time.Time
	RejectionReason        *string `gorm:"size:500"`
	Notes                  *string `gorm:"size:500"`
	TotalDispensedValue    string  `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	CreatedAt              time.Time
	UpdatedAt              time.Time

	RequestingDepartment *Department           `gorm:"foreignKey:RequestingDepartmentID"`
	FulfillmentWarehouse *Warehouse            `gorm:"foreignKey:FulfillmentWarehouseID"`
	Items                []RequisitionItem     `gorm:"foreignKey:RequisitionID"`
	WorkflowHistory      []RequisitionWorkflow `gorm:"foreignKey:RequisitionID"`
}

type RequisitionItem struct {
	ID                int64 `gorm:"primaryKey"`
	RequisitionID     int64 `gorm:"index;not null"`
	DrugID            int64 `gorm:"index;not null"`
	StockCardID       int64 `gorm:"index;not null"`
	RequestedQuantity int64 `gorm:"not null"`
	ApprovedQuantity  *int64
	FulfilledQuantity int64  `gorm:"not null;default:0"`
	Status            string `gorm:"size:20;not null;default:'PENDING'"`
	UnitCost          string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	TotalCost         string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	Notes             *string `gorm:"size:255"`
	CreatedAt         time.Time
	UpdatedAt         time.Time

	Drug      *Drug      `gorm:"foreignKey:DrugID"`
	StockCard *StockCard `gorm:"foreignKey:StockCardID"`
}

// RequisitionWorkflow rows are written once per status transition and are
// never updated afterwards.
type RequisitionWorkflow struct {
	ID            int64  `gorm:"primaryKey"`
	RequisitionID int64  `gorm:"index;not null"`
	FromStatus    string `gorm:"size:20;not null"`
	ToStatus      string `gorm:"size:20;not null"`
	Action        string `gorm:"size:20;not null"`
	UserID        int64
	Comments      *string   `gorm:"size:500"`
	ProcessedAt   time.Time `gorm:"index"`
}

// RequisitionSequence is the per-hospital counter behind requisition
// numbering. The row is upserted inside the create transaction so
// concurrent creates cannot mint the same number.
type RequisitionSequence struct {
	HospitalID int64 `gorm:"primaryKey"`
	NextSeq    int64 `gorm:"not null;default:1"`
	UpdatedAt  time.Time
}

// FulfillmentReceipt records the outcome of a fulfillment call keyed by the
// caller's idempotency key, so a blind retry replays the stored result
// instead of dispensing twice.
type FulfillmentReceipt struct {
	ID             int64  `gorm:"primaryKey"`
	RequisitionID  int64  `gorm:"index;not null"`
	IdempotencyKey string `gorm:"size:100;uniqueIndex;not null"`
	Action         string `gorm:"size:20;not null"`
	DispensedValue string `gorm:"type:decimal(18,2);not null;default:'0.00'"`
	CreatedAt      time.Time
}
