// Package remap turns raw uploaded rows into transaction attributes by
// applying a stored column mapping. Everything here is pure so the same
// functions serve both the initial ingestion and later mapping edits.
package remap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mapping associates an application attribute name with the source column
// that supplies its value. Keys other than the known attributes are ignored.
type Mapping map[string]string

// RawRow is one uploaded row, column name -> value, exactly as received.
type RawRow map[string]any

// Attribute names a mapping may bind.
const (
	AttrDate        = "date"
	AttrVendor      = "vendor"
	AttrCategory    = "category"
	AttrDescription = "description"
	AttrAmount      = "amount"
	AttrStatus      = "status"
)

// Transaction statuses a raw status value may resolve to.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Derived holds the attributes computed from one raw row under a mapping.
// Label fields are empty when their attribute is unmapped.
type Derived struct {
	Amount        decimal.Decimal
	Date          time.Time
	VendorLabel   string
	CategoryLabel string
	Description   string
	Status        string
}

// CollectColumns returns the sorted union of column names across all rows.
// Rows may have heterogeneous keys, so every row contributes.
func CollectColumns(rows []RawRow) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// MissingColumns returns every non-empty mapped column that is absent from
// available, sorted. An empty result means the mapping is valid.
func MissingColumns(m Mapping, available []string) []string {
	set := make(map[string]struct{}, len(available))
	for _, col := range available {
		set[col] = struct{}{}
	}
	var missing []string
	for _, col := range m {
		if col == "" {
			continue
		}
		if _, ok := set[col]; !ok {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	return missing
}

// Derive computes all transaction attributes for one raw row. now supplies
// the date used when no date column is mapped. The only hard failure is an
// unparsable mapped date; a bad amount degrades to zero and an unknown
// status degrades to completed.
func Derive(raw RawRow, m Mapping, now time.Time) (Derived, error) {
	d := Derived{Status: StatusCompleted, Date: now}

	if col := m[AttrAmount]; col != "" {
		d.Amount = ParseAmount(raw[col])
	}

	if col := m[AttrDate]; col != "" {
		t, err := ParseFlexibleDate(StringValue(raw[col]))
		if err != nil {
			return Derived{}, fmt.Errorf("column %q: %w", col, err)
		}
		d.Date = t
	}

	d.VendorLabel, d.CategoryLabel, d.Description = Labels(raw, m)

	if col := m[AttrStatus]; col != "" {
		d.Status = NormalizeStatus(raw[col])
	}

	return d, nil
}

// Labels computes only the vendor/category/description attributes. Mapping
// edits re-run this against each stored raw row; an attribute missing from
// the mapping yields an empty string, which clears any previous value.
func Labels(raw RawRow, m Mapping) (vendor, category, description string) {
	if col := m[AttrVendor]; col != "" {
		vendor = StringValue(raw[col])
	}
	if col := m[AttrCategory]; col != "" {
		category = StringValue(raw[col])
	}
	if col := m[AttrDescription]; col != "" {
		description = StringValue(raw[col])
	}
	return vendor, category, description
}

// ParseAmount coerces a raw cell into a decimal amount. Numeric values pass
// through; strings are parsed after trimming. Anything unparsable becomes
// zero rather than failing the batch.
func ParseAmount(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	}
	s := strings.TrimSpace(StringValue(v))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// NormalizeStatus lower-cases a raw status cell and accepts it only when it
// is a known status; everything else falls back to completed. This fallback
// is silent on purpose: status columns in the wild carry bank-specific
// vocabulary that should not fail an upload.
func NormalizeStatus(v any) string {
	switch strings.ToLower(strings.TrimSpace(StringValue(v))) {
	case StatusPending:
		return StatusPending
	case StatusCancelled:
		return StatusCancelled
	}
	return StatusCompleted
}

// StringValue renders a raw cell the way the row was written: numbers keep
// their shortest form, nil is empty.
func StringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
