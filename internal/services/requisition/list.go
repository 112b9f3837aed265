package requisition

import (
	"context"
	"encoding/json"
	"fmt"

	"medistock-system/internal/database/models"
)

// ListFilter narrows List. Results are ordered priority first, newest
// second, the order a human operator works the queue in.
type ListFilter struct {
	Status       *string
	Type         *string
	DepartmentID *int64
	WarehouseID  *int64
	Page         int
	PageSize     int
}

const priorityOrder = "CASE priority " +
	"WHEN 'URGENT' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'NORMAL' THEN 2 ELSE 1 END DESC, created_at DESC"

func (s *Service) List(ctx context.Context, hospitalID int64, f ListFilter) ([]models.Requisition, int64, error) {
	query := s.db.Model(&models.Requisition{}).Where("hospital_id = ?", hospitalID)

	if f.Status != nil {
		query = query.Where("status = ?", *f.Status)
	}
	if f.Type != nil {
		query = query.Where("requisition_type = ?", *f.Type)
	}
	if f.DepartmentID != nil {
		query = query.Where("requesting_department_id = ?", *f.DepartmentID)
	}
	if f.WarehouseID != nil {
		query = query.Where("fulfillment_warehouse_id = ?", *f.WarehouseID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}

	var rows []models.Requisition
	if err := query.Preload("Items").Order(priorityOrder).
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListPending serves the approval queue (SUBMITTED, first page) from redis
// when fresh; every workflow mutation invalidates the key.
func (s *Service) ListPending(ctx context.Context, hospitalID int64) ([]models.Requisition, error) {
	key := fmt.Sprintf("%s%d", pendingCachePrefix, hospitalID)
	if s.rdb != nil {
		if payload, err := s.rdb.Get(ctx, key).Result(); err == nil {
			var rows []models.Requisition
			if json.Unmarshal([]byte(payload), &rows) == nil {
				return rows, nil
			}
		}
	}

	status := models.ReqStatusSubmitted
	rows, _, err := s.List(ctx, hospitalID, ListFilter{Status: &status, PageSize: 50})
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if payload, err := json.Marshal(rows); err == nil {
			_ = s.rdb.Set(ctx, key, payload, pendingCacheTTL).Err()
		}
	}
	return rows, nil
}
