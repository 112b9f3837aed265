package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medistock-system/internal/gateway/middleware"
	"medistock-system/internal/services/requisition"
)

type RequisitionHandler struct {
	svc *requisition.Service
}

func NewRequisitionHandler(svc *requisition.Service) *RequisitionHandler {
	return &RequisitionHandler{svc: svc}
}

type createItemRequest struct {
	DrugID   int64   `json:"drug_id" binding:"required"`
	Quantity int64   `json:"quantity" binding:"required"`
	Notes    *string `json:"notes"`
}

type createRequisitionRequest struct {
	Type                   string              `json:"type"`
	Priority               string              `json:"priority"`
	RequestingDepartmentID int64               `json:"requesting_department_id" binding:"required"`
	FulfillmentWarehouseID int64               `json:"fulfillment_warehouse_id" binding:"required"`
	RequiredDate           *string             `json:"required_date"`
	Notes                  *string             `json:"notes"`
	SaveAsDraft            bool                `json:"save_as_draft"`
	Items                  []createItemRequest `json:"items" binding:"required"`
}

func (h *RequisitionHandler) Create(c *gin.Context) {
	var req createRequisitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	identity := middleware.Identity(c)

	var requiredDate *time.Time
	if req.RequiredDate != nil {
		t, err := time.Parse("2006-01-02", *req.RequiredDate)
		if err != nil {
			fail(c, http.StatusBadRequest, "required_date must be YYYY-MM-DD")
			return
		}
		requiredDate = &t
	}

	items := make([]requisition.CreateItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = requisition.CreateItem{DrugID: it.DrugID, Quantity: it.Quantity, Notes: it.Notes}
	}

	created, err := h.svc.Create(c.Request.Context(), identity.HospitalID, identity.UserID, requisition.CreateRequest{
		Type:                   req.Type,
		Priority:               req.Priority,
		RequestingDepartmentID: req.RequestingDepartmentID,
		FulfillmentWarehouseID: req.FulfillmentWarehouseID,
		RequiredDate:           requiredDate,
		Notes:                  req.Notes,
		SaveAsDraft:            req.SaveAsDraft,
		Items:                  items,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, created)
}

func (h *RequisitionHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	req, err := h.svc.Get(id)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, req)
}

func (h *RequisitionHandler) List(c *gin.Context) {
	identity := middleware.Identity(c)
	page, pageSize := parsePagination(c)

	rows, total, err := h.svc.List(c.Request.Context(), identity.HospitalID, requisition.ListFilter{
		Status:       parseStringQuery(c, "status"),
		Type:         parseStringQuery(c, "type"),
		DepartmentID: parseInt64Query(c, "department_id"),
		WarehouseID:  parseInt64Query(c, "warehouse_id"),
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, gin.H{"requisitions": rows, "total": total})
}

func (h *RequisitionHandler) ListPending(c *gin.Context) {
	identity := middleware.Identity(c)
	rows, err := h.svc.ListPending(c.Request.Context(), identity.HospitalID)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, rows)
}

func (h *RequisitionHandler) Submit(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	identity := middleware.Identity(c)
	req, err := h.svc.Submit(c.Request.Context(), id, identity.UserID)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, req)
}

type approveRequest struct {
	ItemOverrides map[int64]int64 `json:"item_overrides"`
}

func (h *RequisitionHandler) Approve(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req approveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	identity := middleware.Identity(c)
	result, err := h.svc.Approve(c.Request.Context(), id, identity.UserID, req.ItemOverrides)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, result)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *RequisitionHandler) Reject(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	identity := middleware.Identity(c)
	result, err := h.svc.Reject(c.Request.Context(), id, identity.UserID, req.Reason)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, result)
}

type cancelRequest struct {
	Reason *string `json:"reason"`
}

func (h *RequisitionHandler) Cancel(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	identity := middleware.Identity(c)
	result, err := h.svc.Cancel(c.Request.Context(), id, identity.UserID, req.Reason)
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, result)
}

type fulfillLineRequest struct {
	ItemID            int64   `json:"item_id" binding:"required"`
	DispensedQuantity int64   `json:"dispensed_quantity"`
	Notes             *string `json:"notes"`
}

type fulfillRequest struct {
	Lines    []fulfillLineRequest `json:"lines" binding:"required"`
	Comments *string              `json:"comments"`
}

func (h *RequisitionHandler) Fulfill(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req fulfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	identity := middleware.Identity(c)

	lines := make([]requisition.FulfillLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = requisition.FulfillLine{ItemID: l.ItemID, DispensedQuantity: l.DispensedQuantity, Notes: l.Notes}
	}

	result, err := h.svc.Fulfill(c.Request.Context(), id, identity.UserID, requisition.FulfillRequest{
		Lines:          lines,
		Comments:       req.Comments,
		IdempotencyKey: c.GetHeader("X-Idempotency-Key"),
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	success(c, gin.H{
		"action":          result.Action,
		"dispensed_value": result.DispensedValue,
		"requisition":     result.Requisition,
	})
}
