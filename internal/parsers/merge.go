package parsers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// ExpectedMergeColumns are checked after merging; absent ones produce a warning only
var ExpectedMergeColumns = []string{
	models.ColumnDateFilled,
	models.ColumnSourceRecordID,
	models.ColumnQuantity,
	models.ColumnDaySupply,
	models.ColumnNDC,
	models.ColumnMemberID,
	models.ColumnDrugName,
	models.ColumnPharmacyName,
	models.ColumnTotalAWP,
}

// MergeResult is the outcome of joining the claims and reprice extracts
type MergeResult struct {
	Table    *Table
	Warnings []string

	LeftRows      int
	RightRows     int
	MatchedKeys   int
	LeftOnlyKeys  int
	RightOnlyKeys int
}

// RecordSet converts the merged table into a typed record set
func (mr *MergeResult) RecordSet() *models.RecordSet {
	return ToRecordSet(mr.Table)
}

// Merger joins a claims extract with a reprice extract on SOURCERECORDID
type Merger struct {
	loader *ClaimsLoader
	logger logger.Logger
}

// NewMerger creates a merger reading both inputs through loader, which
// should require only the join column (see MergeInputConfig)
func NewMerger(loader *ClaimsLoader, log logger.Logger) *Merger {
	return &Merger{
		loader: loader,
		logger: logger.OrDefault(log).WithComponent("merger"),
	}
}

// Merge reads both extracts concurrently and joins them
func (m *Merger) Merge(ctx context.Context, claimsPath, repricePath string) (*MergeResult, error) {
	var left, right *Table

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, _, err := m.loader.ReadTable(gctx, claimsPath)
		left = t
		return err
	})
	g.Go(func() error {
		t, _, err := m.loader.ReadTable(gctx, repricePath)
		right = t
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result, err := MergeTables(left, right)
	if err != nil {
		return nil, err
	}

	for _, warning := range result.Warnings {
		m.logger.Warn(warning)
	}
	m.logger.WithFields(logger.Fields{
		"claims_rows":    result.LeftRows,
		"reprice_rows":   result.RightRows,
		"merged_rows":    len(result.Table.Rows),
		"matched_keys":   result.MatchedKeys,
		"claims_only":    result.LeftOnlyKeys,
		"reprice_only":   result.RightOnlyKeys,
		"merged_columns": len(result.Table.Columns),
		"warnings":       len(result.Warnings),
	}).Info("Merged extracts")

	return result, nil
}

// MergeTables performs a full outer join of left and right on SOURCERECORDID.
// Output rows are ordered by key; a key repeated on both sides yields every
// pairing. Columns present on both sides keep the left value unless it is blank.
func MergeTables(left, right *Table) (*MergeResult, error) {
	key := models.ColumnSourceRecordID
	li, ri := left.ColumnIndex(key), right.ColumnIndex(key)
	if li < 0 {
		return nil, errors.MissingColumnError(left.Source, []string{key})
	}
	if ri < 0 {
		return nil, errors.MissingColumnError(right.Source, []string{key})
	}

	result := &MergeResult{LeftRows: len(left.Rows), RightRows: len(right.Rows)}

	columns := append([]string(nil), left.Columns...)
	rightTarget := make([]int, len(right.Columns))
	for j, col := range right.Columns {
		if j == ri {
			rightTarget[j] = li
			continue
		}
		if k := indexOf(columns, col); k >= 0 {
			rightTarget[j] = k
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("column %q is present in both extracts; keeping %s values", col, sourceName(left)))
			continue
		}
		columns = append(columns, col)
		rightTarget[j] = len(columns) - 1
	}

	leftGroups, leftKeys := groupByKey(left.Rows, li)
	rightGroups, rightKeys := groupByKey(right.Rows, ri)

	keys := append([]string(nil), leftKeys...)
	for _, k := range rightKeys {
		if _, ok := leftGroups[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	combine := func(k string, lrow, rrow []string) []string {
		out := make([]string, len(columns))
		if lrow != nil {
			for i := range left.Columns {
				out[i] = Cell(lrow, i)
			}
		}
		if rrow != nil {
			for j := range right.Columns {
				target := rightTarget[j]
				if target < len(left.Columns) && lrow != nil && strings.TrimSpace(out[target]) != "" {
					continue
				}
				out[target] = Cell(rrow, j)
			}
		}
		out[li] = k
		return out
	}

	var rows [][]string
	for _, k := range keys {
		ls, rs := leftGroups[k], rightGroups[k]
		switch {
		case len(rs) == 0:
			result.LeftOnlyKeys++
			for _, l := range ls {
				rows = append(rows, combine(k, left.Rows[l], nil))
			}
		case len(ls) == 0:
			result.RightOnlyKeys++
			for _, r := range rs {
				rows = append(rows, combine(k, nil, right.Rows[r]))
			}
		default:
			result.MatchedKeys++
			for _, l := range ls {
				for _, r := range rs {
					rows = append(rows, combine(k, left.Rows[l], right.Rows[r]))
				}
			}
		}
	}

	table := &Table{Source: "merged", Columns: columns, Rows: rows}
	normalizeAWP(table)
	fillBlankMembers(table)

	for _, col := range ExpectedMergeColumns {
		if table.ColumnIndex(col) < 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("expected column %q is missing from the merged extract", col))
		}
	}

	result.Table = table
	return result, nil
}

func groupByKey(rows [][]string, keyIdx int) (map[string][]int, []string) {
	groups := make(map[string][]int)
	var order []string
	for i, row := range rows {
		k := strings.TrimSpace(Cell(row, keyIdx))
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	return groups, order
}

// normalizeAWP rounds the historical AWP to cents, blanking unparseable
// values, or adds the column as 0.00 when the extracts lack it
func normalizeAWP(table *Table) {
	idx := table.ColumnIndex(models.ColumnTotalAWP)
	if idx < 0 {
		table.Columns = append(table.Columns, models.ColumnTotalAWP)
		for i := range table.Rows {
			table.Rows[i] = append(table.Rows[i], "0.00")
		}
		return
	}

	for _, row := range table.Rows {
		d, err := decimal.NewFromString(strings.TrimSpace(row[idx]))
		if err != nil {
			row[idx] = ""
			continue
		}
		row[idx] = d.RoundBank(2).StringFixedBank(2)
	}
}

func fillBlankMembers(table *Table) {
	idx := table.ColumnIndex(models.ColumnMemberID)
	if idx < 0 {
		return
	}
	for _, row := range table.Rows {
		if strings.TrimSpace(row[idx]) == "" {
			row[idx] = "0"
		}
	}
}

func indexOf(columns []string, name string) int {
	for i, col := range columns {
		if col == name {
			return i
		}
	}
	return -1
}

func sourceName(t *Table) string {
	if t.Source == "" {
		return "left"
	}
	return t.Source
}
