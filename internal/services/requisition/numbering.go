package requisition

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medistock-system/internal/database/models"
)

func typePrefix(reqType string) string {
	switch reqType {
	case models.ReqTypeEmergency:
		return "EM"
	case models.ReqTypeScheduled:
		return "SC"
	case models.ReqTypeReturn:
		return "RT"
	default:
		return ""
	}
}

// nextNumber allocates {typePrefix}{seq:06d} from the per-hospital counter
// row. The counter is upserted in one statement: a fresh hospital inserts
// the row having allocated 1, everyone else lands on the conflict branch
// and increments in place. The winning statement holds the row lock for the
// rest of the create transaction, so concurrent creates for one hospital
// serialize here instead of minting the same number.
func (s *Service) nextNumber(tx *gorm.DB, hospitalID int64, reqType string) (string, error) {
	now := time.Now()
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hospital_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"next_seq":   gorm.Expr("next_seq + 1"),
			"updated_at": now,
		}),
	}).Create(&models.RequisitionSequence{HospitalID: hospitalID, NextSeq: 2, UpdatedAt: now}).Error; err != nil {
		return "", err
	}

	var counter models.RequisitionSequence
	if err := tx.Where("hospital_id = ?", hospitalID).First(&counter).Error; err != nil {
		return "", err
	}
	seq := counter.NextSeq - 1

	return fmt.Sprintf("%s%06d", typePrefix(reqType), seq), nil
}
