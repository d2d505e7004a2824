package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

const signatureAlgorithm = "HMAC-SHA256"

// ExportMeta is the metadata document written next to an exported CSV.
type ExportMeta struct {
	ExportedAt         time.Time `json:"exported_at"`
	From               time.Time `json:"from,omitempty"`
	To                 time.Time `json:"to,omitempty"`
	RecordCount        int       `json:"record_count"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
	CSVSHA256          string    `json:"csv_sha256"`
}

// VerifyResult reports the outcome of an export verification.
type VerifyResult struct {
	HashValid      bool `json:"hash_valid"`
	SignatureValid bool `json:"signature_valid"`
	Tampered       bool `json:"tampered"`
}

var exportHeader = []string{
	"id", "event_type", "timestamp", "user", "session", "ip",
	"resource", "action", "success", "error", "details",
}

// Export writes events in [since, until] to path as CSV, plus a
// path+".sig" hex HMAC-SHA256 of the CSV bytes and a path+".meta.json"
// metadata document. Returns the record count.
func (s *Store) Export(ctx context.Context, since, until time.Time, path string) (int, error) {
	events, err := s.Query(ctx, Filter{Since: since, Until: until})
	if err != nil {
		return 0, err
	}

	csvBytes, err := renderCSV(events)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, csvBytes, 0644); err != nil {
		return 0, fmt.Errorf("failed to write export CSV: %w", err)
	}

	signature := s.sign(csvBytes)
	if err := os.WriteFile(path+".sig", []byte(signature), 0644); err != nil {
		return 0, fmt.Errorf("failed to write export signature: %w", err)
	}

	digest := sha256.Sum256(csvBytes)
	meta := ExportMeta{
		ExportedAt:         time.Now().UTC(),
		From:               since,
		To:                 until,
		RecordCount:        len(events),
		SignatureAlgorithm: signatureAlgorithm,
		CSVSHA256:          hex.EncodeToString(digest[:]),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal export metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta.json", metaBytes, 0644); err != nil {
		return 0, fmt.Errorf("failed to write export metadata: %w", err)
	}

	return len(events), nil
}

// Verify recomputes the hash and signature of a previous export. Both
// comparisons are constant time.
func (s *Store) Verify(path string) (*VerifyResult, error) {
	return VerifyExport(path, s.secretKey)
}

// VerifyExport checks an export against a signing key without needing
// the originating store.
func VerifyExport(path string, secretKey []byte) (*VerifyResult, error) {
	csvBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export CSV: %w", err)
	}
	sigBytes, err := os.ReadFile(path + ".sig")
	if err != nil {
		return nil, fmt.Errorf("failed to read export signature: %w", err)
	}
	metaBytes, err := os.ReadFile(path + ".meta.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read export metadata: %w", err)
	}

	var meta ExportMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse export metadata: %w", err)
	}

	digest := sha256.Sum256(csvBytes)
	hashValid := hmac.Equal([]byte(hex.EncodeToString(digest[:])), []byte(meta.CSVSHA256))

	mac := hmac.New(sha256.New, secretKey)
	mac.Write(csvBytes)
	expected := hex.EncodeToString(mac.Sum(nil))
	signatureValid := hmac.Equal([]byte(expected), sigBytes)

	return &VerifyResult{
		HashValid:      hashValid,
		SignatureValid: signatureValid,
		Tampered:       !hashValid || !signatureValid,
	}, nil
}

// ReadExportMeta loads the metadata document of an export.
func ReadExportMeta(path string) (*ExportMeta, error) {
	metaBytes, err := os.ReadFile(path + ".meta.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read export metadata: %w", err)
	}
	var meta ExportMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse export metadata: %w", err)
	}
	return &meta, nil
}

func (s *Store) sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func renderCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}

	for _, event := range events {
		details := ""
		if len(event.Details) > 0 {
			data, err := json.Marshal(event.Details)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal details for %s: %w", event.ID, err)
			}
			details = string(data)
		}
		record := []string{
			event.ID,
			event.EventType,
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			event.User,
			event.Session,
			event.IP,
			event.Resource,
			event.Action,
			strconv.FormatBool(event.Success),
			event.Error,
			details,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
