package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterCtx(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/transactions?"+rawQuery, nil)
	return c
}

func TestParseTransactionFilterEmpty(t *testing.T) {
	f, err := parseTransactionFilter(filterCtx(t, ""))
	require.NoError(t, err)
	assert.Nil(t, f.DateFrom)
	assert.Nil(t, f.DateTo)
	assert.Empty(t, f.AccountIDs)
	assert.Empty(t, f.Vendors)
	assert.Empty(t, f.CategoryIDs)
	assert.False(t, f.IncludeUncategorized)
	assert.Nil(t, f.AmountMin)
	assert.Nil(t, f.AmountMax)
}

func TestParseTransactionFilterDates(t *testing.T) {
	f, err := parseTransactionFilter(filterCtx(t, "dateFrom=2025-02-01&dateTo=2025-05-01"))
	require.NoError(t, err)
	require.NotNil(t, f.DateFrom)
	require.NotNil(t, f.DateTo)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *f.DateFrom)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), *f.DateTo)
}

func TestParseTransactionFilterRejectsBadDate(t *testing.T) {
	_, err := parseTransactionFilter(filterCtx(t, "dateFrom=01-02-2025"))
	assert.Error(t, err)

	_, err = parseTransactionFilter(filterCtx(t, "dateTo=2025-02-01T10:00:00"))
	assert.Error(t, err)
}

func TestParseTransactionFilterListForms(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	// comma-separated and repeated params both work, and mix
	f, err := parseTransactionFilter(filterCtx(t, "accountIds="+a.String()+","+b.String()))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, f.AccountIDs)

	f, err = parseTransactionFilter(filterCtx(t, "accountIds="+a.String()+"&accountIds="+b.String()))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, f.AccountIDs)

	f, err = parseTransactionFilter(filterCtx(t, "vendors=whole+foods,uber&vendors=delta"))
	require.NoError(t, err)
	assert.Equal(t, []string{"whole foods", "uber", "delta"}, f.Vendors)
}

func TestParseTransactionFilterRejectsBadAccountID(t *testing.T) {
	_, err := parseTransactionFilter(filterCtx(t, "accountIds=not-a-uuid"))
	assert.Error(t, err)
}

func TestParseTransactionFilterCategoryNullSentinel(t *testing.T) {
	c1 := uuid.New()

	f, err := parseTransactionFilter(filterCtx(t, "categoryIds=null,"+c1.String()))
	require.NoError(t, err)
	assert.True(t, f.IncludeUncategorized)
	assert.Equal(t, []uuid.UUID{c1}, f.CategoryIDs)

	f, err = parseTransactionFilter(filterCtx(t, "categoryIds=null"))
	require.NoError(t, err)
	assert.True(t, f.IncludeUncategorized)
	assert.Empty(t, f.CategoryIDs)

	f, err = parseTransactionFilter(filterCtx(t, "categoryIds="+c1.String()))
	require.NoError(t, err)
	assert.False(t, f.IncludeUncategorized)
	assert.Equal(t, []uuid.UUID{c1}, f.CategoryIDs)
}

func TestParseTransactionFilterAmounts(t *testing.T) {
	f, err := parseTransactionFilter(filterCtx(t, "amountMin=20&amountMax=100.50"))
	require.NoError(t, err)
	require.NotNil(t, f.AmountMin)
	require.NotNil(t, f.AmountMax)
	assert.True(t, f.AmountMin.Equal(decimal.RequireFromString("20")))
	assert.True(t, f.AmountMax.Equal(decimal.RequireFromString("100.50")))

	_, err = parseTransactionFilter(filterCtx(t, "amountMin=lots"))
	assert.Error(t, err)
}
