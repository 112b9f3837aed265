package requisition

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"medistock-system/internal/database/models"
	"medistock-system/internal/services/ledger"
)

func newTestEnv(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every session on the same in-memory DB.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Hospital{},
		&models.Department{},
		&models.Warehouse{},
		&models.Drug{},
		&models.StockCard{},
		&models.StockBatch{},
		&models.StockTransaction{},
		&models.Requisition{},
		&models.RequisitionItem{},
		&models.RequisitionWorkflow{},
		&models.RequisitionSequence{},
		&models.FulfillmentReceipt{},
	))

	log := zap.NewNop()
	ledgerSvc := ledger.NewService(db, nil, log)
	return NewService(db, nil, ledgerSvc, log), db
}

func seedStock(t *testing.T, db *gorm.DB, warehouseID, drugID, current int64, avgCost string) *models.StockCard {
	t.Helper()
	card := &models.StockCard{
		WarehouseID:    warehouseID,
		DrugID:         drugID,
		CurrentStock:   current,
		AvailableStock: current,
		ReorderPoint:   0,
		AverageCost:    avgCost,
		TotalValue:     "0.00",
	}
	require.NoError(t, db.Create(card).Error)
	return card
}

func stockCard(t *testing.T, db *gorm.DB, id int64) *models.StockCard {
	t.Helper()
	var card models.StockCard
	require.NoError(t, db.First(&card, id).Error)
	return &card
}

// assertMoney compares amounts numerically. Decimal columns round-trip with
// dialect-dependent formatting ("75.00" comes back "75" from sqlite), so
// string equality is the wrong check for values read from the database.
func assertMoney(t *testing.T, want, got string) {
	t.Helper()
	w := decimal.RequireFromString(want)
	g := decimal.RequireFromString(got)
	assert.True(t, w.Equal(g), "amount %s, want %s", got, want)
}

func createRequest(drugID, quantity int64) CreateRequest {
	return CreateRequest{
		RequestingDepartmentID: 1,
		FulfillmentWarehouseID: 1,
		Items:                  []CreateItem{{DrugID: drugID, Quantity: quantity}},
	}
}

func TestCreateSubmitsByDefault(t *testing.T) {
	svc, db := newTestEnv(t)
	card := seedStock(t, db, 1, 10, 100, "2.50")

	got, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)

	assert.Equal(t, models.ReqStatusSubmitted, got.Status)
	assert.Equal(t, "000001", got.RequisitionNumber)
	assert.Equal(t, models.ReqTypeRegular, got.RequisitionType)
	assert.Equal(t, models.PriorityNormal, got.Priority)
	require.Len(t, got.Items, 1)
	assert.Equal(t, models.ItemStatusPending, got.Items[0].Status)
	assert.Nil(t, got.Items[0].ApprovedQuantity)
	require.Len(t, got.WorkflowHistory, 1)
	assert.Equal(t, models.WorkflowActionSubmit, got.WorkflowHistory[0].Action)

	// Creation never touches stock.
	assert.Equal(t, int64(0), stockCard(t, db, card.ID).ReservedStock)
}

func TestCreateDraftThenSubmit(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	req := createRequest(10, 30)
	req.SaveAsDraft = true
	draft, err := svc.Create(context.Background(), 1, 7, req)
	require.NoError(t, err)
	assert.Equal(t, models.ReqStatusDraft, draft.Status)
	assert.Equal(t, models.WorkflowActionCreate, draft.WorkflowHistory[0].Action)

	got, err := svc.Submit(context.Background(), draft.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.ReqStatusSubmitted, got.Status)
	require.Len(t, got.WorkflowHistory, 2)
	assert.Equal(t, models.ReqStatusDraft, got.WorkflowHistory[1].FromStatus)
	assert.Equal(t, models.ReqStatusSubmitted, got.WorkflowHistory[1].ToStatus)

	_, err = svc.Submit(context.Background(), draft.ID, 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateNumbersSequencePerHospital(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	first, err := svc.Create(context.Background(), 1, 7, createRequest(10, 1))
	require.NoError(t, err)
	assert.Equal(t, "000001", first.RequisitionNumber)

	em := createRequest(10, 1)
	em.Type = models.ReqTypeEmergency
	second, err := svc.Create(context.Background(), 1, 7, em)
	require.NoError(t, err)
	assert.Equal(t, "EM000002", second.RequisitionNumber)

	third, err := svc.Create(context.Background(), 1, 7, createRequest(10, 1))
	require.NoError(t, err)
	assert.Equal(t, "000003", third.RequisitionNumber)

	// Another hospital starts its own sequence.
	other, err := svc.Create(context.Background(), 2, 7, createRequest(10, 1))
	require.NoError(t, err)
	assert.Equal(t, "000001", other.RequisitionNumber)
}

func TestCreateValidation(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	_, err := svc.Create(context.Background(), 1, 7, CreateRequest{
		RequestingDepartmentID: 1,
		FulfillmentWarehouseID: 1,
	})
	require.ErrorIs(t, err, ErrValidation)

	bad := createRequest(10, 30)
	bad.Type = "BULK"
	_, err = svc.Create(context.Background(), 1, 7, bad)
	require.ErrorIs(t, err, ErrValidation)

	neg := createRequest(10, -5)
	_, err = svc.Create(context.Background(), 1, 7, neg)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateRequiresStockCard(t *testing.T) {
	svc, _ := newTestEnv(t)

	_, err := svc.Create(context.Background(), 1, 7, createRequest(99, 5))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApproveReservesStock(t *testing.T) {
	svc, db := newTestEnv(t)
	card := seedStock(t, db, 1, 10, 100, "2.50")

	created, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)

	got, err := svc.Approve(context.Background(), created.ID, 9, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ReqStatusApproved, got.Status)
	require.NotNil(t, got.ApproverID)
	assert.Equal(t, int64(9), *got.ApproverID)
	assert.NotNil(t, got.ApprovedDate)

	require.Len(t, got.Items, 1)
	item := got.Items[0]
	assert.Equal(t, models.ItemStatusApproved, item.Status)
	require.NotNil(t, item.ApprovedQuantity)
	assert.Equal(t, int64(30), *item.ApprovedQuantity)
	assertMoney(t, "2.50", item.UnitCost)
	assertMoney(t, "75.00", item.TotalCost)

	after := stockCard(t, db, card.ID)
	assert.Equal(t, int64(100), after.CurrentStock)
	assert.Equal(t, int64(30), after.ReservedStock)
	assert.Equal(t, int64(70), after.AvailableStock)

	var reserve models.StockTransaction
	require.NoError(t, db.Where("transaction_type = ?", models.TxTypeReserve).First(&reserve).Error)
	assert.Equal(t, got.RequisitionNumber, *reserve.ReferenceDocument)
	assert.Equal(t, got.ID, *reserve.ReferenceID)
}

func TestApproveWithQuantityOverride(t *testing.T) {
	svc, db := newTestEnv(t)
	card := seedStock(t, db, 1, 10, 100, "2.00")

	created, err := svc.Create(context.Background(), 1, 7, createRequest(10, 50))
	require.NoError(t, err)

	got, err := svc.Approve(context.Background(), created.ID, 9,
		map[int64]int64{created.Items[0].ID: 20})
	require.NoError(t, err)

	require.NotNil(t, got.Items[0].ApprovedQuantity)
	assert.Equal(t, int64(20), *got.Items[0].ApprovedQuantity)
	assert.Equal(t, int64(50), got.Items[0].RequestedQuantity)
	assert.Equal(t, int64(20), stockCard(t, db, card.ID).ReservedStock)
}

func TestApproveFailsWhenAvailableInsufficient(t *testing.T) {
	svc, db := newTestEnv(t)
	card := seedStock(t, db, 1, 10, 100, "2.50")

	first, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), first.ID, 9, nil)
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), 1, 7, createRequest(10, 80))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), second.ID, 9, nil)
	require.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	// The failed approval leaves both the requisition and the card untouched.
	reloaded, err := svc.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReqStatusSubmitted, reloaded.Status)
	assert.Equal(t, models.ItemStatusPending, reloaded.Items[0].Status)
	assert.Equal(t, int64(30), stockCard(t, db, card.ID).ReservedStock)
}

func TestApproveIsAllOrNothing(t *testing.T) {
	svc, db := newTestEnv(t)
	rich := seedStock(t, db, 1, 10, 100, "1.00")
	poor := seedStock(t, db, 1, 11, 5, "1.00")

	req := CreateRequest{
		RequestingDepartmentID: 1,
		FulfillmentWarehouseID: 1,
		Items: []CreateItem{
			{DrugID: 10, Quantity: 40},
			{DrugID: 11, Quantity: 50},
		},
	}
	created, err := svc.Create(context.Background(), 1, 7, req)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), created.ID, 9, nil)
	require.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	// The first item's reservation must have rolled back with the rest.
	assert.Equal(t, int64(0), stockCard(t, db, rich.ID).ReservedStock)
	assert.Equal(t, int64(0), stockCard(t, db, poor.ID).ReservedStock)

	reloaded, err := svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReqStatusSubmitted, reloaded.Status)

	var count int64
	require.NoError(t, db.Model(&models.StockTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestApproveOnlyFromSubmitted(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	created, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), created.ID, 9, nil)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), created.ID, 9, nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectRequiresReason(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	created, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), created.ID, 9, "   ")
	require.ErrorIs(t, err, ErrMissingReason)

	got, err := svc.Reject(context.Background(), created.ID, 9, "not on formulary")
	require.NoError(t, err)
	assert.Equal(t, models.ReqStatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "not on formulary", *got.RejectionReason)
	assert.Equal(t, models.ItemStatusRejected, got.Items[0].Status)

	last := got.WorkflowHistory[len(got.WorkflowHistory)-1]
	assert.Equal(t, models.WorkflowActionReject, last.Action)
	require.NotNil(t, last.Comments)
	assert.Equal(t, "not on formulary", *last.Comments)
}

func TestRejectOnlyFromSubmitted(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	created, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), created.ID, 9, nil)
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), created.ID, 9, "too late")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelApprovedReleasesReservation(t *testing.T) {
	svc, db := newTestEnv(t)
	card := seedStock(t, db, 1, 10, 100, "2.50")

	created, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), created.ID, 9, nil)
	require.NoError(t, err)
	require.Equal(t, int64(30), stockCard(t, db, card.ID).ReservedStock)

	reason := "department closed"
	got, err := svc.Cancel(context.Background(), created.ID, 7, &reason)
	require.NoError(t, err)

	assert.Equal(t, models.ReqStatusCancelled, got.Status)
	assert.Equal(t, models.ItemStatusCancelled, got.Items[0].Status)

	after := stockCard(t, db, card.ID)
	assert.Equal(t, int64(100), after.CurrentStock)
	assert.Equal(t, int64(0), after.ReservedStock)
	assert.Equal(t, int64(100), after.AvailableStock)

	var release models.StockTransaction
	require.NoError(t, db.Where("transaction_type = ?", models.TxTypeRelease).First(&release).Error)
	assert.Equal(t, int64(30), release.Quantity)

	last := got.WorkflowHistory[len(got.WorkflowHistory)-1]
	assert.Equal(t, models.ReqStatusApproved, last.FromStatus)
	assert.Equal(t, models.ReqStatusCancelled, last.ToStatus)
}

func TestCancelDraftReleasesNothing(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	req := createRequest(10, 30)
	req.SaveAsDraft = true
	created, err := svc.Create(context.Background(), 1, 7, req)
	require.NoError(t, err)

	got, err := svc.Cancel(context.Background(), created.ID, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReqStatusCancelled, got.Status)

	var count int64
	require.NoError(t, db.Model(&models.StockTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestCancelTerminalStatesRefused(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	created, err := svc.Create(context.Background(), 1, 7, createRequest(10, 30))
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), created.ID, 9, "no")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), created.ID, 7, nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestListOrdersByPriorityThenRecency(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	normal := createRequest(10, 1)
	_, err := svc.Create(context.Background(), 1, 7, normal)
	require.NoError(t, err)

	urgent := createRequest(10, 1)
	urgent.Priority = models.PriorityUrgent
	urgentReq, err := svc.Create(context.Background(), 1, 7, urgent)
	require.NoError(t, err)

	low := createRequest(10, 1)
	low.Priority = models.PriorityLow
	_, err = svc.Create(context.Background(), 1, 7, low)
	require.NoError(t, err)

	rows, total, err := svc.List(context.Background(), 1, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rows, 3)
	assert.Equal(t, urgentReq.ID, rows[0].ID)
	assert.Equal(t, models.PriorityLow, rows[2].Priority)

	// Hospital scoping.
	rows, total, err = svc.List(context.Background(), 2, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, rows)
}

func TestListPendingOnlySubmitted(t *testing.T) {
	svc, db := newTestEnv(t)
	seedStock(t, db, 1, 10, 100, "2.50")

	submitted, err := svc.Create(context.Background(), 1, 7, createRequest(10, 10))
	require.NoError(t, err)

	approved, err := svc.Create(context.Background(), 1, 7, createRequest(10, 10))
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), approved.ID, 9, nil)
	require.NoError(t, err)

	rows, err := svc.ListPending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, submitted.ID, rows[0].ID)
}

func TestGetUnknownRequisition(t *testing.T) {
	svc, _ := newTestEnv(t)

	_, err := svc.Get(12345)
	require.ErrorIs(t, err, ErrNotFound)
}
