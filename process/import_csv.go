package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"finbook/models"
	"finbook/pkg/remap"
)

// Global DB handle for helper funcs
var db *gorm.DB

// global flags (parsed in main)
var verbose bool

const importedSuffix = ".imported"

func mustInitDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatalf("DB_DSN must be set in environment to run this tool")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return gdb
}

// Main: scans a drop directory of CSV exports and ingests each file as one
// upload against a fixed account and mapping, optional watch mode.
func main() {
	dirFlag := flag.String("dir", "dropbox/csv", "directory to scan for CSV files")
	accountFlag := flag.String("account-id", "", "account UUID the rows belong to (required)")
	userFlag := flag.String("username", "admin", "owning user of the uploads")
	mappingFlag := flag.String("mapping", "", "attribute=Column pairs, comma separated (e.g. amount=Amount,date=Date)")
	dryRun := flag.Bool("dry-run", false, "Parse and validate files without writing to the database")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose per-file logging")
	flag.Parse()

	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		log.Fatalf("-account-id must be a valid UUID: %v", err)
	}
	mapping, err := parseMappingFlag(*mappingFlag)
	if err != nil {
		log.Fatalf("bad -mapping: %v", err)
	}

	if *workers <= 0 {
		*workers = runtime.NumCPU()
	}

	if *dryRun {
		log.Printf("Dry-run: scanning %s (no DB interaction)", *dirFlag)
		for _, name := range listCSVFiles(*dirFlag) {
			rows, err := readCSVRows(filepath.Join(*dirFlag, name))
			if err != nil {
				log.Printf("%s: %v", name, err)
				continue
			}
			missing := remap.MissingColumns(mapping, remap.CollectColumns(rows))
			if len(missing) > 0 {
				log.Printf("%s: %d rows, mapping references unknown columns: %s", name, len(rows), strings.Join(missing, ", "))
				continue
			}
			log.Printf("%s: %d rows ok", name, len(rows))
		}
		return
	}

	db = mustInitDBFromEnv()
	var user models.User
	if err := db.Where("username = ?", *userFlag).First(&user).Error; err != nil {
		log.Fatalf("user %q not found: %v", *userFlag, err)
	}

	initial := listCSVFiles(*dirFlag)
	log.Printf("Found %d candidate files in %s", len(initial), *dirFlag)
	if *watch {
		if err := watchDirectory(*dirFlag, user, accountID, mapping, initial, *workers); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
		return
	}
	runWorkerPool(*dirFlag, user, accountID, mapping, initial, *workers, nil)
}

// parseMappingFlag turns "amount=Amount,date=Date" into a remap.Mapping.
func parseMappingFlag(s string) (remap.Mapping, error) {
	m := remap.Mapping{}
	if strings.TrimSpace(s) == "" {
		return m, nil
	}
	for _, pair := range strings.Split(s, ",") {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("expected attribute=Column, got %q", pair)
		}
		m[strings.TrimSpace(pair[:eq])] = strings.TrimSpace(pair[eq+1:])
	}
	return m, nil
}

func listCSVFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func isSupportedExt(name string) bool {
	// already-imported files carry the .imported suffix; skip them
	if strings.HasSuffix(name, importedSuffix) {
		return false
	}
	return strings.ToLower(filepath.Ext(name)) == ".csv"
}

// readCSVRows parses a CSV file with a header row into raw rows. Every cell
// stays a string; the derivation layer does all coercion.
func readCSVRows(path string) ([]remap.RawRow, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // exports are ragged often enough
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no data rows")
	}
	header := records[0]
	rows := make([]remap.RawRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := remap.RawRow{}
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// processSingleFile ingests one CSV file as one upload. This mirrors the
// server's upload path (ownership check, column validation, one DB
// transaction around the upload record and the bulk insert) so a file drop
// and an API upload produce identical records.
func processSingleFile(dir, name string, user models.User, accountID uuid.UUID, mapping remap.Mapping) {
	path := filepath.Join(dir, name)
	rows, err := readCSVRows(path)
	if err != nil {
		log.Printf("%s: skipped: %v", name, err)
		return
	}

	var account models.Account
	err = db.Model(&models.Account{}).
		Joins("JOIN account_users ON account_users.account_id = accounts.id").
		Where("accounts.id = ? AND account_users.user_id = ?", accountID, user.ID).
		First(&account).Error
	if err != nil {
		log.Printf("%s: account not found or not owned by %s", name, user.Username)
		return
	}

	cols := remap.CollectColumns(rows)
	if missing := remap.MissingColumns(mapping, cols); len(missing) > 0 {
		log.Printf("%s: mapping references unknown columns: %s", name, strings.Join(missing, ", "))
		return
	}

	now := time.Now().UTC()
	var record models.UploadRecord
	err = db.Transaction(func(tx *gorm.DB) error {
		record = models.UploadRecord{
			UserID:           user.ID,
			Mapping:          datatypes.NewJSONType(mapping),
			AvailableColumns: datatypes.JSONSlice[string](cols),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		entities := make([]models.Transaction, 0, len(rows))
		for i, row := range rows {
			d, err := remap.Derive(row, mapping, now)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			entities = append(entities, models.Transaction{
				AccountID:     account.ID,
				UploadID:      record.ID,
				Amount:        d.Amount,
				Date:          d.Date,
				VendorLabel:   d.VendorLabel,
				CategoryLabel: d.CategoryLabel,
				Description:   d.Description,
				Status:        models.TransactionStatus(d.Status),
				Raw:           datatypes.JSONMap(row),
			})
		}
		return tx.CreateInBatches(entities, 200).Error
	})
	if err != nil {
		log.Printf("%s: import failed (rolled back): %v", name, err)
		return
	}

	// mark the file so rescans and watch restarts do not double-import
	if err := os.Rename(path, path+importedSuffix); err != nil {
		log.Printf("%s: imported as upload %s but rename failed: %v", name, record.ID, err)
		return
	}
	if verbose {
		log.Printf("%s: imported %d rows as upload %s", name, len(rows), record.ID)
	}
}

// worker pool orchestrator
func runWorkerPool(dir string, user models.User, accountID uuid.UUID, mapping remap.Mapping, initial []string, workers int, extra <-chan string) {
	fileCh := make(chan string, 1024)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				processSingleFile(dir, name, user, accountID, mapping)
			}
		}()
	}
	for _, name := range initial {
		fileCh <- name
	}
	if extra != nil {
		for name := range extra {
			fileCh <- name
		}
	}
	close(fileCh)
	wg.Wait()
}

func watchDirectory(dir string, user models.User, accountID uuid.UUID, mapping remap.Mapping, initial []string, workers int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Printf("Watching %s (debounced) ...", dir)

	fileCh := make(chan string, 256)
	go func() {
		// simple debounce map of pending files so half-written drops settle first
		pending := map[string]time.Time{}
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					close(fileCh)
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					name := filepath.Base(ev.Name)
					if !isSupportedExt(name) {
						continue
					}
					pending[name] = time.Now()
				}
			case <-ticker.C:
				now := time.Now()
				for name, t := range pending {
					if now.Sub(t) > 300*time.Millisecond { // stable
						fileCh <- name
						delete(pending, name)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					close(fileCh)
					return
				}
				log.Printf("watch error: %v", err)
			}
		}
	}()

	runWorkerPool(dir, user, accountID, mapping, initial, workers, fileCh)
	return nil
}
