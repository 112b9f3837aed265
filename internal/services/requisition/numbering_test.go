package requisition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medistock-system/internal/database/models"
)

func TestNextNumberUpsertsCounterRow(t *testing.T) {
	svc, db := newTestEnv(t)

	// First allocation for a hospital inserts the counter row.
	tx := db.Begin()
	number, err := svc.nextNumber(tx, 1, models.ReqTypeRegular)
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)
	assert.Equal(t, "000001", number)

	var counter models.RequisitionSequence
	require.NoError(t, db.First(&counter, "hospital_id = ?", 1).Error)
	assert.Equal(t, int64(2), counter.NextSeq)

	// Subsequent allocations land on the conflict branch of the same
	// statement and increment in place.
	tx = db.Begin()
	number, err = svc.nextNumber(tx, 1, models.ReqTypeEmergency)
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)
	assert.Equal(t, "EM000002", number)

	require.NoError(t, db.First(&counter, "hospital_id = ?", 1).Error)
	assert.Equal(t, int64(3), counter.NextSeq)
}
