package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the merged claims table. They match the headers produced by
// the claims extract so downstream report code keeps working unchanged.
const (
	ColumnQuantity       = "QUANTITY"
	ColumnNDC            = "NDC"
	ColumnMemberID       = "MemberID"
	ColumnDateFilled     = "DATEFILLED"
	ColumnLogic          = "Logic"
	ColumnSourceRecordID = "SOURCERECORDID"
	ColumnRowID          = "RowID"
	ColumnDaySupply      = "DAYSUPPLY"
	ColumnDrugName       = "Drug Name"
	ColumnPharmacyName   = "Pharmacy Name"
	ColumnTotalAWP       = "Total AWP (Historical)"

	// LogicExportHeader replaces ColumnLogic in exported reports
	LogicExportHeader = "O's & R's Check"
)

// TagOR marks a reversal, matched or not, and any claim selected as a reversal's match
const TagOR = "OR"

// RequiredColumns must all be present before a block can be matched
var RequiredColumns = []string{ColumnQuantity, ColumnNDC, ColumnMemberID, ColumnDateFilled, ColumnLogic}

// Quantity is a signed decimal that may be unparseable
type Quantity struct {
	Value decimal.Decimal
	Valid bool
}

// NewQuantity creates a valid quantity from an int64
func NewQuantity(v int64) Quantity {
	return Quantity{Value: decimal.NewFromInt(v), Valid: true}
}

// ParseQuantity coerces a raw cell to a quantity. Blank and non-numeric cells
// produce an invalid quantity rather than an error.
func ParseQuantity(raw string) Quantity {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Quantity{}
	}
	switch strings.ToLower(s) {
	case "nan", "inf", "+inf", "-inf", "infinity", "-infinity", "null", "none":
		return Quantity{}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}
	}
	return Quantity{Value: d, Valid: true}
}

// IsReversal reports whether the quantity is negative
func (q Quantity) IsReversal() bool {
	return q.Valid && q.Value.IsNegative()
}

// IsClaim reports whether the quantity is positive
func (q Quantity) IsClaim() bool {
	return q.Valid && q.Value.IsPositive()
}

// AbsEqual reports whether both quantities are valid and equal in magnitude
func (q Quantity) AbsEqual(other Quantity) bool {
	return q.Valid && other.Valid && q.Value.Abs().Equal(other.Value.Abs())
}

// AbsKey returns a canonical text form of the magnitude, suitable as a map key
func (q Quantity) AbsKey() string {
	if !q.Valid {
		return ""
	}
	return q.Value.Abs().String()
}

func (q Quantity) String() string {
	if !q.Valid {
		return ""
	}
	return q.Value.String()
}

// Date is a nullable fill date
type Date struct {
	Time  time.Time
	Valid bool
}

// NewDate creates a valid date at midnight UTC
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

// dateLayouts lists the fill-date formats seen in claims and reprice extracts
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"01-02-06",
	"20060102",
}

// ParseDate coerces a raw cell to a date. Unparseable cells produce a null date.
func ParseDate(raw string) Date {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t.UTC(), Valid: true}
		}
	}
	return Date{}
}

// DaysBetween returns the signed whole-day difference a minus b, floored
// towards negative infinity. ok is false when either date is null.
func DaysBetween(a, b Date) (days int, ok bool) {
	if !a.Valid || !b.Valid {
		return 0, false
	}

	const day = 24 * time.Hour
	diff := a.Time.Sub(b.Time)
	days = int(diff / day)
	if diff%day < 0 {
		days--
	}
	return days, true
}

// Format renders the date as YYYY-MM-DD, or blank when null
func (d Date) Format() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format("2006-01-02")
}

// ClaimRecord is one row of the claims table
type ClaimRecord struct {
	RowID          int
	SourceRecordID string
	Quantity       Quantity
	NDC            string
	MemberID       string
	DateFilled     Date
	Logic          string

	// Matched and PartnerRowID describe the claim a reversal was paired with.
	Matched      bool
	PartnerRowID int
	// SelectedCount counts the reversals that picked this claim.
	SelectedCount int

	// Values holds the raw cells aligned with the owning table's columns.
	Values []string
}

// IsReversal reports whether the record undoes an earlier claim
func (r *ClaimRecord) IsReversal() bool {
	return r.Quantity.IsReversal()
}

// IsClaim reports whether the record is an original claim
func (r *ClaimRecord) IsClaim() bool {
	return r.Quantity.IsClaim()
}

// IsTagged reports whether the record carries the OR tag
func (r *ClaimRecord) IsTagged() bool {
	return r.Logic == TagOR
}

// IsUnmatchedReversal reports whether a reversal found no partner claim
func (r *ClaimRecord) IsUnmatchedReversal() bool {
	return r.IsReversal() && r.IsTagged() && !r.Matched
}

// ResetProvenance clears pairing information left by an earlier pass
func (r *ClaimRecord) ResetProvenance() {
	r.Matched = false
	r.PartnerRowID = 0
	r.SelectedCount = 0
}

// Clone returns a deep copy of the record
func (r *ClaimRecord) Clone() *ClaimRecord {
	c := *r
	c.Values = append([]string(nil), r.Values...)
	return &c
}

func (r *ClaimRecord) String() string {
	return fmt.Sprintf("ClaimRecord{RowID: %d, NDC: %s, Member: %s, Qty: %s, Date: %s, Logic: %q}",
		r.RowID, r.NDC, r.MemberID, r.Quantity, r.DateFilled.Format(), r.Logic)
}

// Columns is an ordered header row with name lookup
type Columns []string

// Index returns the position of name, or -1 when absent
func (c Columns) Index(name string) int {
	for i, col := range c {
		if col == name {
			return i
		}
	}
	return -1
}

// Has reports whether name is present
func (c Columns) Has(name string) bool {
	return c.Index(name) >= 0
}

// Missing returns the names in required that are absent, in order
func (c Columns) Missing(required []string) []string {
	var missing []string
	for _, name := range required {
		if !c.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// RecordSet is the ordered claims table
type RecordSet struct {
	Columns Columns
	Records []*ClaimRecord
}

// NewRecordSet builds a record set from a header and raw rows, coercing the
// typed fields. Short rows are padded with blanks; long rows are truncated.
func NewRecordSet(columns []string, rows [][]string) *RecordSet {
	rs := &RecordSet{
		Columns: append(Columns(nil), columns...),
		Records: make([]*ClaimRecord, 0, len(rows)),
	}
	for _, row := range rows {
		rs.Records = append(rs.Records, rs.newRecord(row))
	}
	return rs
}

func (rs *RecordSet) newRecord(row []string) *ClaimRecord {
	values := make([]string, len(rs.Columns))
	copy(values, row)

	rec := &ClaimRecord{Values: values}
	cell := func(name string) string {
		if i := rs.Columns.Index(name); i >= 0 {
			return values[i]
		}
		return ""
	}

	rec.Quantity = ParseQuantity(cell(ColumnQuantity))
	// Match keys compare verbatim; " 123" and "123" are different drugs.
	rec.NDC = cell(ColumnNDC)
	rec.MemberID = cell(ColumnMemberID)
	rec.DateFilled = ParseDate(cell(ColumnDateFilled))
	rec.Logic = cell(ColumnLogic)
	rec.SourceRecordID = strings.TrimSpace(cell(ColumnSourceRecordID))
	if id, err := strconv.Atoi(strings.TrimSpace(cell(ColumnRowID))); err == nil {
		rec.RowID = id
	}
	return rec
}

// Len returns the number of records
func (rs *RecordSet) Len() int {
	return len(rs.Records)
}

// AddColumn appends a column filled with value, if absent
func (rs *RecordSet) AddColumn(name, value string) {
	if rs.Columns.Has(name) {
		return
	}
	rs.Columns = append(rs.Columns, name)
	for _, rec := range rs.Records {
		rec.Values = append(rec.Values, value)
	}
}

// DropColumn removes a column and its cells, if present
func (rs *RecordSet) DropColumn(name string) {
	i := rs.Columns.Index(name)
	if i < 0 {
		return
	}
	rs.Columns = append(rs.Columns[:i:i], rs.Columns[i+1:]...)
	for _, rec := range rs.Records {
		if i < len(rec.Values) {
			rec.Values = append(rec.Values[:i:i], rec.Values[i+1:]...)
		}
	}
}

// Cell returns the exported text of column i for rec. Logic and RowID come
// from the typed fields since matching updates those in place.
func (rs *RecordSet) Cell(rec *ClaimRecord, i int) string {
	switch rs.Columns[i] {
	case ColumnLogic:
		return rec.Logic
	case ColumnRowID:
		return strconv.Itoa(rec.RowID)
	}
	if i < len(rec.Values) {
		return rec.Values[i]
	}
	return ""
}

// Clone returns a deep copy of the record set
func (rs *RecordSet) Clone() *RecordSet {
	c := &RecordSet{
		Columns: append(Columns(nil), rs.Columns...),
		Records: make([]*ClaimRecord, len(rs.Records)),
	}
	for i, rec := range rs.Records {
		c.Records[i] = rec.Clone()
	}
	return c
}

// Block is a contiguous slice of a record set processed by one matching pass
type Block struct {
	Index   int
	Columns Columns
	Records []*ClaimRecord
}

// Len returns the number of records in the block
func (b *Block) Len() int {
	return len(b.Records)
}

// Clone returns a deep copy so the block can be handed to a worker
func (b *Block) Clone() *Block {
	c := &Block{
		Index:   b.Index,
		Columns: append(Columns(nil), b.Columns...),
		Records: make([]*ClaimRecord, len(b.Records)),
	}
	for i, rec := range b.Records {
		c.Records[i] = rec.Clone()
	}
	return c
}

// MatchSummary counts the outcome of tagging a record set
type MatchSummary struct {
	TotalRows          int `json:"total_rows"`
	Reversals          int `json:"reversals"`
	Claims             int `json:"claims"`
	MatchedReversals   int `json:"matched_reversals"`
	UnmatchedReversals int `json:"unmatched_reversals"`
	TaggedClaims       int `json:"tagged_claims"`
	ReusedClaims       int `json:"reused_claims"`
	InvalidQuantities  int `json:"invalid_quantities"`
	NullDates          int `json:"null_dates"`
}

// Summarize computes match statistics from the record tags and provenance
func Summarize(records []*ClaimRecord) MatchSummary {
	s := MatchSummary{TotalRows: len(records)}
	for _, rec := range records {
		if !rec.Quantity.Valid {
			s.InvalidQuantities++
		}
		if !rec.DateFilled.Valid {
			s.NullDates++
		}
		switch {
		case rec.IsReversal():
			s.Reversals++
			if rec.Matched {
				s.MatchedReversals++
			} else {
				s.UnmatchedReversals++
			}
		case rec.IsClaim():
			s.Claims++
			if rec.IsTagged() {
				s.TaggedClaims++
			}
			if rec.SelectedCount > 1 {
				s.ReusedClaims++
			}
		}
	}
	return s
}
