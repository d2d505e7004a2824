package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/datapilot-io/datapilot/pkg/ingest"
	"github.com/datapilot-io/datapilot/pkg/security"
)

// maxUploadSize bounds CSV uploads at 100 MB.
const maxUploadSize = 100 << 20

// handleUpload ingests a CSV. Multipart uploads use the "file" part;
// otherwise the raw body is the CSV. Table name comes from the
// "table_name" query or form value.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var body io.Reader = r.Body
	tableName := r.URL.Query().Get("table_name")

	if mediaType := r.Header.Get("Content-Type"); len(mediaType) >= 19 && mediaType[:19] == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart upload needs a \"file\" part"})
			return
		}
		defer file.Close()
		body = file
		if tableName == "" {
			tableName = r.FormValue("table_name")
		}
	}

	if tableName == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing table name"})
		return
	}

	opts := ingest.Options{
		TableName:     tableName,
		PrimaryKey:    r.URL.Query().Get("primary_key"),
		SkipEmbedding: r.URL.Query().Get("skip_embedding") == "true",
	}

	result, err := s.ingestor.IngestCSV(r.Context(), body, opts)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		s.auditLog.Upload(r.Context(), actor, tableName, 0, false, err.Error())
		writeError(w, err)
		return
	}

	uploadsTotal.WithLabelValues("ok").Inc()
	s.auditLog.Upload(r.Context(), actor, result.TableName, result.RowsImported, true, "")
	if result.PII.HasPII() {
		s.auditLog.PIIDetected(r.Context(), actor, result.TableName, result.PII.CountsByType)
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleTableSchema(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	schema, err := s.store.TableSchema(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleTablePreview(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be an integer"})
			return
		}
		limit = n
	}
	limit, err := security.ValidateLimit(limit)
	if err != nil {
		writeError(w, err)
		return
	}

	rows, err := s.store.Preview(r.Context(), table, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	s.auditLog.DataAccess(r.Context(), actorFrom(r.Context()), table, "preview")
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "rows": rows})
}

// handleDeleteTable drops the table and its vector collection.
func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	actor := actorFrom(r.Context())

	if err := s.store.DropTable(r.Context(), table); err != nil {
		s.auditLog.DataDeletion(r.Context(), actor, table, false, err.Error())
		writeError(w, err)
		return
	}

	if s.engine != nil {
		if err := s.engine.DeleteTable(r.Context(), table); err != nil {
			s.auditLog.DataDeletion(r.Context(), actor, table, false,
				fmt.Sprintf("table dropped but vector index removal failed: %v", err))
			writeError(w, err)
			return
		}
	}

	s.auditLog.DataDeletion(r.Context(), actor, table, true, "")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": table})
}
