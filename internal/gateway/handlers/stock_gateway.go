package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"medistock-system/internal/gateway/middleware"
	"medistock-system/internal/services/ledger"
)

type StockHandler struct {
	svc *ledger.Service
}

func NewStockHandler(svc *ledger.Service) *StockHandler {
	return &StockHandler{svc: svc}
}

func (h *StockHandler) GetCard(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	card, err := h.svc.GetCardCached(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, card)
}

type adjustStockRequest struct {
	NewCurrentStock int64   `json:"new_current_stock"`
	NewReorderPoint int64   `json:"new_reorder_point"`
	NewPricePerUnit string  `json:"new_price_per_unit"`
	Notes           *string `json:"notes"`
}

func (h *StockHandler) Adjust(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	unitCost, err := decimal.NewFromString(req.NewPricePerUnit)
	if err != nil {
		fail(c, http.StatusBadRequest, "new_price_per_unit must be a decimal string")
		return
	}
	identity := middleware.Identity(c)

	card, err := h.svc.AdjustStock(c.Request.Context(), id, ledger.AdjustParams{
		NewCurrentStock: req.NewCurrentStock,
		NewReorderPoint: req.NewReorderPoint,
		NewUnitCost:     unitCost,
	}, identity.UserID, req.Notes)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, card)
}

type receiveStockRequest struct {
	WarehouseID int64   `json:"warehouse_id" binding:"required"`
	DrugID      int64   `json:"drug_id" binding:"required"`
	Quantity    int64   `json:"quantity" binding:"required"`
	UnitCost    string  `json:"unit_cost" binding:"required"`
	BatchNumber string  `json:"batch_number"`
	ExpiryDate  *string `json:"expiry_date"`
	Notes       *string `json:"notes"`
}

func (h *StockHandler) Receive(c *gin.Context) {
	var req receiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		fail(c, http.StatusBadRequest, "unit_cost must be a decimal string")
		return
	}
	var expiry *time.Time
	if req.ExpiryDate != nil {
		t, err := time.Parse("2006-01-02", *req.ExpiryDate)
		if err != nil {
			fail(c, http.StatusBadRequest, "expiry_date must be YYYY-MM-DD")
			return
		}
		expiry = &t
	}
	identity := middleware.Identity(c)

	card, err := h.svc.Receive(c.Request.Context(), ledger.ReceiveRequest{
		WarehouseID: req.WarehouseID,
		DrugID:      req.DrugID,
		Quantity:    req.Quantity,
		UnitCost:    unitCost,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  expiry,
		Notes:       req.Notes,
	}, identity.UserID)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, card)
}

type transferStockRequest struct {
	DrugID          int64   `json:"drug_id" binding:"required"`
	FromWarehouseID int64   `json:"from_warehouse_id" binding:"required"`
	ToWarehouseID   int64   `json:"to_warehouse_id" binding:"required"`
	Quantity        int64   `json:"quantity" binding:"required"`
	Notes           *string `json:"notes"`
}

func (h *StockHandler) Transfer(c *gin.Context) {
	var req transferStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	identity := middleware.Identity(c)

	movements, err := h.svc.Transfer(c.Request.Context(), ledger.TransferRequest{
		DrugID:          req.DrugID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Notes:           req.Notes,
	}, identity.UserID)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, movements)
}

func (h *StockHandler) ListTransactions(c *gin.Context) {
	page, pageSize := parsePagination(c)
	rows, total, err := h.svc.ListTransactions(ledger.TransactionFilter{
		StockCardID:     parseInt64Query(c, "stock_card_id"),
		WarehouseID:     parseInt64Query(c, "warehouse_id"),
		TransactionType: parseStringQuery(c, "type"),
		From:            parseDateQuery(c, "from"),
		To:              parseDateQuery(c, "to"),
		Page:            page,
		PageSize:        pageSize,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, gin.H{"transactions": rows, "total": total})
}

func (h *StockHandler) ListLowStock(c *gin.Context) {
	page, pageSize := parsePagination(c)
	rows, total, err := h.svc.ListLowStock(parseInt64Query(c, "warehouse_id"), page, pageSize)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, gin.H{"low_stocks": rows, "total": total})
}

func (h *StockHandler) ExpireBatches(c *gin.Context) {
	count, err := h.svc.ExpireBatches(time.Now())
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, gin.H{"expired": count})
}
