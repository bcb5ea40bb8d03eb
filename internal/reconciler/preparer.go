package reconciler

import (
	"sort"
	"time"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// UnknownSourceID orders rows with a blank SOURCERECORDID
const UnknownSourceID = "UNKNOWN_ID"

// nullDateSortKey orders rows with a null DATEFILLED. It is used for
// ordering only; the record keeps its null date and can never match.
var nullDateSortKey = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Preparer readies a loaded record set for matching
type Preparer struct {
	logger logger.Logger
}

// NewPreparer creates a preparer
func NewPreparer(log logger.Logger) *Preparer {
	return &Preparer{logger: logger.OrDefault(log).WithComponent("preparer")}
}

// Prepare adds the Logic column, sorts the records by fill date and source
// id, and numbers them with a fresh RowID. It must run before the record set
// is split into blocks.
func (p *Preparer) Prepare(rs *models.RecordSet) error {
	if rs == nil || rs.Len() == 0 {
		return errors.ValidationError(errors.CodeEmptyInput, "records", 0, nil).
			WithSuggestion("the extract contains a header but no rows")
	}

	rs.DropColumn(models.ColumnRowID)
	if !rs.Columns.Has(models.ColumnLogic) {
		rs.AddColumn(models.ColumnLogic, "")
		for _, rec := range rs.Records {
			rec.Logic = ""
		}
	}

	sort.SliceStable(rs.Records, func(i, j int) bool {
		a, b := rs.Records[i], rs.Records[j]
		da, db := sortDate(a), sortDate(b)
		if !da.Equal(db) {
			return da.Before(db)
		}
		return sortID(a) < sortID(b)
	})

	for i, rec := range rs.Records {
		rec.RowID = i
		rec.ResetProvenance()
	}
	rs.AddColumn(models.ColumnRowID, "")

	p.logger.WithFields(logger.Fields{
		"records": rs.Len(),
		"columns": len(rs.Columns),
	}).Debug("Prepared records")

	return nil
}

func sortDate(rec *models.ClaimRecord) time.Time {
	if !rec.DateFilled.Valid {
		return nullDateSortKey
	}
	return rec.DateFilled.Time
}

func sortID(rec *models.ClaimRecord) string {
	if rec.SourceRecordID == "" {
		return UnknownSourceID
	}
	return rec.SourceRecordID
}
