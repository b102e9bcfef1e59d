package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// transactionFilter holds the optional query predicates. Every present
// field is AND-combined; vendors and categoryIds carry their own internal
// OR semantics.
type transactionFilter struct {
	DateFrom             *time.Time
	DateTo               *time.Time
	AccountIDs           []uuid.UUID
	Vendors              []string
	CategoryIDs          []uuid.UUID
	IncludeUncategorized bool
	AmountMin            *decimal.Decimal
	AmountMax            *decimal.Decimal
}

// splitListParam reads a query param that accepts either repeated values or
// a single comma-separated value. Empty entries are dropped.
func splitListParam(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseTransactionFilter validates and decodes the filter query params.
// Dates are strict YYYY-MM-DD; list params accept the literal "null" only
// for categoryIds, where it selects uncategorized transactions.
func parseTransactionFilter(c *gin.Context) (transactionFilter, error) {
	var f transactionFilter
	if v := c.Query("dateFrom"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return f, fmt.Errorf("dateFrom must be YYYY-MM-DD")
		}
		f.DateFrom = &t
	}
	if v := c.Query("dateTo"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return f, fmt.Errorf("dateTo must be YYYY-MM-DD")
		}
		f.DateTo = &t
	}
	for _, s := range splitListParam(c, "accountIds") {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, fmt.Errorf("accountIds contains an invalid id: %s", s)
		}
		f.AccountIDs = append(f.AccountIDs, id)
	}
	f.Vendors = splitListParam(c, "vendors")
	for _, s := range splitListParam(c, "categoryIds") {
		if s == "null" {
			f.IncludeUncategorized = true
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return f, fmt.Errorf("categoryIds contains an invalid id: %s", s)
		}
		f.CategoryIDs = append(f.CategoryIDs, id)
	}
	if v := c.Query("amountMin"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, fmt.Errorf("amountMin must be a number")
		}
		f.AmountMin = &d
	}
	if v := c.Query("amountMax"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, fmt.Errorf("amountMax must be a number")
		}
		f.AmountMax = &d
	}
	return f, nil
}

// apply appends one parameterized clause per present predicate. DateTo names
// a whole day, so the bound is exclusive of the following midnight. Vendor
// terms match vendor_label or description, case-insensitive substring, OR'd
// together. A categoryIds set holding both real ids and the null sentinel
// becomes an explicit OR of membership and IS NULL.
func (f transactionFilter) apply(q *gorm.DB) *gorm.DB {
	if f.DateFrom != nil {
		q = q.Where("transactions.date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("transactions.date < ?", f.DateTo.Add(24*time.Hour))
	}
	if len(f.AccountIDs) > 0 {
		q = q.Where("transactions.account_id IN ?", f.AccountIDs)
	}
	if len(f.Vendors) > 0 {
		conds := make([]string, 0, len(f.Vendors))
		args := make([]any, 0, 2*len(f.Vendors))
		for _, term := range f.Vendors {
			pattern := "%" + strings.ToLower(term) + "%"
			conds = append(conds, "(LOWER(transactions.vendor_label) LIKE ? OR LOWER(transactions.description) LIKE ?)")
			args = append(args, pattern, pattern)
		}
		q = q.Where("("+strings.Join(conds, " OR ")+")", args...)
	}
	switch {
	case len(f.CategoryIDs) > 0 && f.IncludeUncategorized:
		q = q.Where("(transactions.category_id IN ? OR transactions.category_id IS NULL)", f.CategoryIDs)
	case len(f.CategoryIDs) > 0:
		q = q.Where("transactions.category_id IN ?", f.CategoryIDs)
	case f.IncludeUncategorized:
		q = q.Where("transactions.category_id IS NULL")
	}
	if f.AmountMin != nil {
		q = q.Where("transactions.amount >= ?", *f.AmountMin)
	}
	if f.AmountMax != nil {
		q = q.Where("transactions.amount <= ?", *f.AmountMax)
	}
	return q
}
