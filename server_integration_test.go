package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"finbook/models"
	"finbook/pkg/remap"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("test-secret")
	initDB()
	r := gin.Default()
	setupRoutes(r)
	return r
}

func registerAndLogin(t *testing.T, r http.Handler, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": "pass123"})
	resp := performRequest(r, http.MethodPost, "/register", bytes.NewBuffer(body), "")
	if resp.Code != 200 {
		t.Fatalf("register %s failed status=%d body=%s", username, resp.Code, resp.Body.String())
	}
	body, _ = json.Marshal(map[string]string{"username": username, "password": "pass123"})
	resp = performRequest(r, http.MethodPost, "/login", bytes.NewBuffer(body), "")
	if resp.Code != 200 {
		t.Fatalf("login %s failed status=%d body=%s", username, resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}
	return token
}

func createAccount(t *testing.T, r http.Handler, token, name, number string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name, "account": number, "routing": "021000021"})
	resp := performRequest(r, http.MethodPost, "/accounts", bytes.NewBuffer(body), token)
	if resp.Code != 200 {
		t.Fatalf("create account failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var view accountView
	_ = json.Unmarshal(resp.Body.Bytes(), &view)
	return view.ID.String()
}

func uploadRows(t *testing.T, r http.Handler, token, accountID string, mapping map[string]string, rows []map[string]any) (*httptest.ResponseRecorder, uploadResult) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"accountId": accountID, "mapping": mapping, "transactions": rows})
	resp := performRequest(r, http.MethodPost, "/transactions/upload", bytes.NewBuffer(body), token)
	var result uploadResult
	if resp.Code == 200 {
		_ = json.Unmarshal(resp.Body.Bytes(), &result)
	}
	return resp, result
}

func queryPage(t *testing.T, r http.Handler, token, query string) transactionPage {
	t.Helper()
	path := "/transactions"
	if query != "" {
		path += "?" + query
	}
	resp := performRequest(r, http.MethodGet, path, nil, token)
	if resp.Code != 200 {
		t.Fatalf("query %q failed status=%d body=%s", query, resp.Code, resp.Body.String())
	}
	var page transactionPage
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	return page
}

func findByDescription(page transactionPage, description string) *transactionView {
	for i := range page.Transactions {
		if page.Transactions[i].Description == description {
			return &page.Transactions[i]
		}
	}
	return nil
}

func TestUploadAndQueryFlow(t *testing.T) {
	r := setupTestServer(t)
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	token := registerAndLogin(t, r, "alice-"+suffix)
	accountName := "Checking " + suffix
	accountID := createAccount(t, r, token, accountName, suffix)

	mapping := map[string]string{"amount": "Amount", "date": "Date", "description": "Notes", "status": "Status"}
	rows := []map[string]any{
		{"Amount": "10", "Date": "2025-01-01", "Notes": "Whole Foods Market"},
		{"Amount": "75", "Date": "2025-02-10", "Notes": "Trader Joes", "Status": "PENDING"},
		{"Amount": "50", "Date": "2025-03-15", "Notes": "Amazon Prime"},
		{"Amount": "125.50", "Date": "2025-04-20", "Notes": "Delta Air"},
		{"Amount": "200", "Date": "2025-06-30", "Notes": "Uber Eats"},
	}
	resp, up := uploadRows(t, r, token, accountID, mapping, rows)
	if resp.Code != 200 {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	if up.TransactionCount != 5 {
		t.Fatalf("expected 5 ingested rows got %d", up.TransactionCount)
	}

	// unfiltered: everything back, date descending, enriched with account + upload info
	page := queryPage(t, r, token, "")
	if page.Total != 5 || len(page.Transactions) != 5 {
		t.Fatalf("expected total=5 len=5 got total=%d len=%d", page.Total, len(page.Transactions))
	}
	if page.Transactions[0].Description != "Uber Eats" || page.Transactions[4].Description != "Whole Foods Market" {
		t.Fatalf("expected date-descending order, got %q ... %q", page.Transactions[0].Description, page.Transactions[4].Description)
	}
	if page.Transactions[0].AccountName != accountName {
		t.Fatalf("expected account name %q got %q", accountName, page.Transactions[0].AccountName)
	}
	if page.Transactions[0].UploadRecordID != up.UploadRecordID {
		t.Fatalf("expected upload record back-reference %s got %s", up.UploadRecordID, page.Transactions[0].UploadRecordID)
	}

	// status column only exists on one row; it maps, the rest default
	if tx := findByDescription(page, "Trader Joes"); tx == nil || tx.Status != models.StatusPending {
		t.Fatalf("expected Trader Joes pending, got %+v", tx)
	}
	if tx := findByDescription(page, "Uber Eats"); tx == nil || tx.Status != models.StatusCompleted {
		t.Fatalf("expected Uber Eats completed, got %+v", tx)
	}
	if tx := findByDescription(page, "Delta Air"); tx == nil || !tx.Amount.Equal(decimal.RequireFromString("125.50")) {
		t.Fatalf("expected Delta Air amount 125.50, got %+v", tx)
	}

	// inclusive date range
	page = queryPage(t, r, token, "dateFrom=2025-02-01&dateTo=2025-05-01")
	if page.Total != 3 {
		t.Fatalf("expected 3 rows in Feb-May range got %d", page.Total)
	}
	page = queryPage(t, r, token, "dateFrom=2025-01-01&dateTo=2025-01-01")
	if page.Total != 1 || page.Transactions[0].Description != "Whole Foods Market" {
		t.Fatalf("expected single-day range to include its bounds, got total=%d", page.Total)
	}

	// vendor terms OR together, case-insensitive substring
	page = queryPage(t, r, token, "vendors=whole+foods,uber")
	if page.Total != 2 {
		t.Fatalf("expected 2 vendor matches got %d", page.Total)
	}

	// inclusive amount range
	page = queryPage(t, r, token, "amountMin=20&amountMax=100")
	if page.Total != 2 {
		t.Fatalf("expected 2 rows in amount range got %d", page.Total)
	}
	page = queryPage(t, r, token, "amountMin=50&amountMax=50")
	if page.Total != 1 {
		t.Fatalf("expected amount bounds to be inclusive, got %d", page.Total)
	}

	// account membership filter
	page = queryPage(t, r, token, "accountIds="+accountID)
	if page.Total != 5 {
		t.Fatalf("expected 5 rows for own account filter got %d", page.Total)
	}

	// pagination: disjoint pages, constant total, graceful overrun
	p1 := queryPage(t, r, token, "limit=2&page=1")
	p2 := queryPage(t, r, token, "limit=2&page=2")
	if p1.Total != 5 || p2.Total != 5 || len(p1.Transactions) != 2 || len(p2.Transactions) != 2 {
		t.Fatalf("unexpected pagination shape: %d/%d rows, totals %d/%d", len(p1.Transactions), len(p2.Transactions), p1.Total, p2.Total)
	}
	for _, a := range p1.Transactions {
		for _, b := range p2.Transactions {
			if a.ID == b.ID {
				t.Fatalf("pages 1 and 2 overlap on %s", a.ID)
			}
		}
	}
	p99 := queryPage(t, r, token, "limit=2&page=99")
	if len(p99.Transactions) != 0 || p99.Total != 5 {
		t.Fatalf("expected empty page with total=5 got len=%d total=%d", len(p99.Transactions), p99.Total)
	}

	// structured categories: assign two, leave three uncategorized
	groceries := models.Category{Name: "Groceries " + suffix}
	shopping := models.Category{Name: "Shopping " + suffix}
	if err := db.Create(&groceries).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}
	if err := db.Create(&shopping).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}
	db.Model(&models.Transaction{}).
		Where("upload_id = ? AND description = ?", up.UploadRecordID, "Whole Foods Market").
		Update("category_id", groceries.ID)
	db.Model(&models.Transaction{}).
		Where("upload_id = ? AND description = ?", up.UploadRecordID, "Amazon Prime").
		Update("category_id", shopping.ID)

	page = queryPage(t, r, token, "categoryIds="+groceries.ID.String())
	if page.Total != 1 || page.Transactions[0].CategoryName != groceries.Name {
		t.Fatalf("expected 1 groceries row with category name, got total=%d", page.Total)
	}
	page = queryPage(t, r, token, "categoryIds=null,"+groceries.ID.String())
	if page.Total != 4 {
		t.Fatalf("expected 3 uncategorized + 1 groceries = 4, got %d", page.Total)
	}
	page = queryPage(t, r, token, "categoryIds=null")
	if page.Total != 3 {
		t.Fatalf("expected 3 uncategorized rows got %d", page.Total)
	}

	// boundary validation
	bad := performRequest(r, http.MethodGet, "/transactions?page=0", nil, token)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for page=0 got %d", bad.Code)
	}
	bad = performRequest(r, http.MethodGet, "/transactions?limit=9999", nil, token)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit got %d", bad.Code)
	}
}

func TestUploadAtomicityAndValidation(t *testing.T) {
	r := setupTestServer(t)
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	username := "carol-" + suffix
	token := registerAndLogin(t, r, username)
	accountID := createAccount(t, r, token, "Savings "+suffix, suffix)

	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	countRecords := func() int64 {
		var n int64
		db.Model(&models.UploadRecord{}).Where("user_id = ?", user.ID).Count(&n)
		return n
	}

	mapping := map[string]string{"amount": "Amount", "date": "Date"}

	// one bad date row poisons the whole batch: no upload record, no transactions
	resp, _ := uploadRows(t, r, token, accountID, mapping, []map[string]any{
		{"Amount": "10", "Date": "2025-01-01"},
		{"Amount": "20", "Date": "not-a-date"},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unparsable date got %d body=%s", resp.Code, resp.Body.String())
	}
	if n := countRecords(); n != 0 {
		t.Fatalf("expected rollback to leave 0 upload records, found %d", n)
	}
	if page := queryPage(t, r, token, ""); page.Total != 0 {
		t.Fatalf("expected rollback to leave 0 transactions, found %d", page.Total)
	}

	// unknown mapped column rejected before any write, naming the column
	resp, _ = uploadRows(t, r, token, accountID, map[string]string{"amount": "Amt"}, []map[string]any{{"Amount": "5"}})
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "Amt") {
		t.Fatalf("expected 400 naming Amt got %d body=%s", resp.Code, resp.Body.String())
	}
	if n := countRecords(); n != 0 {
		t.Fatalf("expected no upload records after validation failure, found %d", n)
	}

	// empty batch rejected at the boundary
	resp, _ = uploadRows(t, r, token, accountID, mapping, []map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch got %d", resp.Code)
	}
	// and by the engine itself
	if _, err := ingestUpload(&user, mustParseUUID(t, accountID), remap.Mapping(mapping), nil); !errors.Is(err, errEmptyUpload) {
		t.Fatalf("expected errEmptyUpload got %v", err)
	}
}

func TestUploadRecordLifecycle(t *testing.T) {
	r := setupTestServer(t)
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	token := registerAndLogin(t, r, "dave-"+suffix)
	accountName := "Joint " + suffix
	accountID := createAccount(t, r, token, accountName, suffix)

	mapping := map[string]string{"amount": "Amount", "date": "Date", "description": "Notes"}
	rows := []map[string]any{
		{"Amount": "10", "Date": "2025-01-01", "Notes": "coffee", "Vendor": "Blue Bottle"},
		{"Amount": "20", "Date": "2025-01-02", "Notes": "books", "Vendor": "Powells"},
	}
	resp, up := uploadRows(t, r, token, accountID, mapping, rows)
	if resp.Code != 200 {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	recordPath := "/upload-records/" + up.UploadRecordID.String()

	getView := func() uploadRecordView {
		resp := performRequest(r, http.MethodGet, recordPath, nil, token)
		if resp.Code != 200 {
			t.Fatalf("get upload record failed status=%d body=%s", resp.Code, resp.Body.String())
		}
		var view uploadRecordView
		_ = json.Unmarshal(resp.Body.Bytes(), &view)
		return view
	}
	putMapping := func(m map[string]string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]any{"mapping": m})
		return performRequest(r, http.MethodPut, recordPath, bytes.NewBuffer(body), token)
	}

	// view carries metadata and the full observed column set
	view := getView()
	if view.TransactionCount != 2 || view.AccountName != accountName {
		t.Fatalf("unexpected view metadata: %+v", view)
	}
	for _, col := range []string{"Amount", "Date", "Notes", "Vendor"} {
		found := false
		for _, c := range view.AvailableColumns {
			if c == col {
				found = true
			}
		}
		if !found {
			t.Fatalf("availableColumns missing %s: %v", col, view.AvailableColumns)
		}
	}

	// remap: binding vendor re-derives vendorLabel from the stored raw rows
	withVendor := map[string]string{"amount": "Amount", "date": "Date", "description": "Notes", "vendor": "Vendor"}
	if resp := putMapping(withVendor); resp.Code != 200 {
		t.Fatalf("update failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	page := queryPage(t, r, token, "")
	if tx := findByDescription(page, "coffee"); tx == nil || tx.VendorLabel != "Blue Bottle" {
		t.Fatalf("expected re-derived vendor label, got %+v", tx)
	}

	// idempotent update: same mapping, nothing changes
	if resp := putMapping(withVendor); resp.Code != 200 {
		t.Fatalf("idempotent update failed status=%d", resp.Code)
	}
	page = queryPage(t, r, token, "")
	if tx := findByDescription(page, "books"); tx == nil || tx.VendorLabel != "Powells" || !tx.Amount.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("idempotent update mutated fields: %+v", tx)
	}

	// clear-on-removal: dropping description empties it on every transaction;
	// amount and date are fixed at ingestion and survive the remap
	if resp := putMapping(map[string]string{"date": "Date", "vendor": "Vendor"}); resp.Code != 200 {
		t.Fatalf("removal update failed status=%d", resp.Code)
	}
	page = queryPage(t, r, token, "")
	for _, tx := range page.Transactions {
		if tx.Description != "" {
			t.Fatalf("expected cleared description, got %q", tx.Description)
		}
	}
	if tx := findByDescription(page, ""); tx == nil {
		t.Fatalf("transactions vanished after remap")
	}
	page = queryPage(t, r, token, "amountMin=20&amountMax=20")
	if page.Total != 1 {
		t.Fatalf("expected ingestion-time amount to survive remap, got total=%d", page.Total)
	}

	// invalid mapping rejected against the original column set, no mutation
	resp = putMapping(map[string]string{"vendor": "Nope"})
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "Nope") {
		t.Fatalf("expected 400 naming Nope got %d body=%s", resp.Code, resp.Body.String())
	}
	view = getView()
	if view.Mapping["vendor"] != "Vendor" {
		t.Fatalf("failed update must not change the mapping: %+v", view.Mapping)
	}

	// delete removes transactions first and reports the count
	resp = performRequest(r, http.MethodDelete, recordPath, nil, token)
	if resp.Code != 200 {
		t.Fatalf("delete failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var del map[string]int64
	_ = json.Unmarshal(resp.Body.Bytes(), &del)
	if del["deletedTransactionCount"] != 2 {
		t.Fatalf("expected 2 deleted transactions got %d", del["deletedTransactionCount"])
	}
	if resp := performRequest(r, http.MethodGet, recordPath, nil, token); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete got %d", resp.Code)
	}
	if page := queryPage(t, r, token, ""); page.Total != 0 {
		t.Fatalf("expected cascade to remove transactions, got total=%d", page.Total)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	r := setupTestServer(t)
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	aliceToken := registerAndLogin(t, r, "erin-"+suffix)
	bobToken := registerAndLogin(t, r, "frank-"+suffix)
	accountID := createAccount(t, r, aliceToken, "Private "+suffix, suffix)

	mapping := map[string]string{"amount": "Amount", "date": "Date"}
	resp, up := uploadRows(t, r, aliceToken, accountID, mapping, []map[string]any{
		{"Amount": "10", "Date": "2025-01-01"},
	})
	if resp.Code != 200 {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// queries never cross the ownership boundary, even with explicit ids
	if page := queryPage(t, r, bobToken, ""); page.Total != 0 {
		t.Fatalf("expected other user to see 0 transactions, got %d", page.Total)
	}
	if page := queryPage(t, r, bobToken, "accountIds="+accountID); page.Total != 0 {
		t.Fatalf("expected account filter to stay ownership-scoped, got %d", page.Total)
	}

	// uploading into someone else's account reads as not-found, not forbidden
	resp, _ = uploadRows(t, r, bobToken, accountID, mapping, []map[string]any{{"Amount": "1", "Date": "2025-01-01"}})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign account upload got %d", resp.Code)
	}

	// and so does every upload-record operation
	recordPath := "/upload-records/" + up.UploadRecordID.String()
	if resp := performRequest(r, http.MethodGet, recordPath, nil, bobToken); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign get got %d", resp.Code)
	}
	body, _ := json.Marshal(map[string]any{"mapping": mapping})
	if resp := performRequest(r, http.MethodPut, recordPath, bytes.NewBuffer(body), bobToken); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign update got %d", resp.Code)
	}
	if resp := performRequest(r, http.MethodDelete, recordPath, nil, bobToken); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign delete got %d", resp.Code)
	}
	// the record is untouched for its owner
	if resp := performRequest(r, http.MethodGet, recordPath, nil, aliceToken); resp.Code != 200 {
		t.Fatalf("owner lost access to record, status=%d", resp.Code)
	}
}

func mustParseUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("bad uuid %q: %v", s, err)
	}
	return id
}
