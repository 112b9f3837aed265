package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"medistock-system/internal/services/ledger"
	"medistock-system/internal/services/requisition"
)

// Helper functions
func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// serviceError maps the sentinel errors of the ledger and workflow
// services onto HTTP statuses: conflicts 409, state misuse 422, missing
// references 404, bad input 400, everything else 500.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientAvailable),
		errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, requisition.ErrDuplicateNumber):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, requisition.ErrInvalidState):
		fail(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, requisition.ErrNotFound), errors.Is(err, ledger.ErrCardNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, requisition.ErrMissingReason),
		errors.Is(err, requisition.ErrValidation),
		errors.Is(err, ledger.ErrNegativeValue):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInvariantViolation):
		fail(c, http.StatusConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

func parseIDParam(c *gin.Context, param string) (int64, bool) {
	val, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || val <= 0 {
		fail(c, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return val, true
}

func parseInt64Query(c *gin.Context, param string) *int64 {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil
	}
	return &val
}

func parseStringQuery(c *gin.Context, param string) *string {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	return &str
}

func parseDateQuery(c *gin.Context, param string) *time.Time {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", str)
	if err != nil {
		return nil
	}
	return &t
}

func parsePagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}
