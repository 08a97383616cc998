// Package casefeed reads a monthly repair-case export in JSONL form, one
// case per line, and fingerprints the file so re-uploads can be detected.
package casefeed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/textnorm"
)

// Record is one exported repair row.
type Record struct {
	YearMonth      string         `json:"year_month"`
	ProductGroup   string         `json:"product_group"`
	Product        string         `json:"product"`
	ActionNotes    string         `json:"action_notes"`
	RequestDetails string         `json:"request_details"`
	JudgmentType   string         `json:"judgment_type"`
	Amount         float64        `json:"amount"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Batch is a parsed export ready for InsertFile/InsertCases.
type Batch struct {
	File    store.UploadedFile
	Cases   []store.Case
	Skipped int
}

// FileHash returns the hex SHA-256 of data.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadFromJSONL reads path. yearMonth, when set, overrides the month of
// every record; otherwise all records must carry the same month.
func LoadFromJSONL(path, yearMonth string, log *zap.Logger) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("read file %s: %w", path, err)
	}
	return Parse(filepath.Base(path), data, yearMonth, log)
}

// Parse decodes JSONL data. Malformed lines are logged and skipped; row
// numbers are the 1-based line numbers of the source file.
func Parse(name string, data []byte, yearMonth string, log *zap.Logger) (Batch, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := Batch{File: store.UploadedFile{Filename: name, FileHash: FileHash(data), YearMonth: yearMonth}}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn("skipping malformed case line", zap.String("file", name), zap.Int("line", i+1), zap.Error(err))
			b.Skipped++
			continue
		}

		month := strings.TrimSpace(rec.YearMonth)
		if yearMonth != "" {
			month = yearMonth
		}
		if month == "" {
			return Batch{}, fmt.Errorf("line %d: no year_month: %w", i+1, internalerr.ErrInvalidInput)
		}
		if b.File.YearMonth == "" {
			b.File.YearMonth = month
		} else if b.File.YearMonth != month {
			return Batch{}, fmt.Errorf("line %d: month %s differs from %s: %w", i+1, month, b.File.YearMonth, internalerr.ErrInvalidInput)
		}

		b.Cases = append(b.Cases, store.Case{
			RowNumber:      i + 1,
			YearMonth:      month,
			ProductGroup:   clean(rec.ProductGroup),
			Product:        clean(rec.Product),
			ActionNotes:    clean(rec.ActionNotes),
			RequestDetails: clean(rec.RequestDetails),
			JudgmentType:   clean(rec.JudgmentType),
			Amount:         rec.Amount,
			Extra:          rec.Extra,
		})
		b.File.TotalCost += rec.Amount
	}

	if len(b.Cases) == 0 {
		return Batch{}, fmt.Errorf("no valid cases found in %s: %w", name, internalerr.ErrInvalidInput)
	}
	b.File.RowCount = len(b.Cases)
	return b, nil
}

func clean(s string) string {
	return strings.TrimSpace(textnorm.StripMarkup(s))
}
