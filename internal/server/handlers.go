package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/koustreak/dbops/internal/engine"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/transfer"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.withEngine(w, r, func(e *engine.Engine) error {
		if err := e.Ping(r.Context()); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return nil
	})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	s.withEngine(w, r, func(e *engine.Engine) error {
		schemas, err := e.Schemas(r.Context())
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, schemas)
		return nil
	})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	s.withEngine(w, r, func(e *engine.Engine) error {
		tables, err := e.Tables(r.Context(), chi.URLParam(r, "schema"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, tables)
		return nil
	})
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	s.withEngine(w, r, func(e *engine.Engine) error {
		desc, err := e.Describe(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "schema"))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, desc)
		return nil
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", s.cfg.PreviewLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.withEngine(w, r, func(e *engine.Engine) error {
		p, err := e.Preview(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "schema"), limit)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, p)
		return nil
	})
}

// queryRequest is the body of POST /query.
type queryRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}

	params := make([]any, len(req.Params))
	for i, p := range req.Params {
		params[i] = bindParam(p)
	}

	s.withEngine(w, r, func(e *engine.Engine) error {
		res, err := e.Query(r.Context(), req.SQL, params, req.Limit)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, res)
		return nil
	})
}

// bindParam turns a decoded JSON value into a bind parameter. Numbers keep
// integer precision; objects and arrays are bound as JSON text.
func bindParam(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return x
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	s.withEngine(w, r, func(e *engine.Engine) error {
		hits, err := e.Search(r.Context(), term, r.URL.Query().Get("schema"))
		if err != nil {
			return err
		}
		all, err := hits.Collect()
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, all)
		return nil
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.withEngine(w, r, func(e *engine.Engine) error {
		snap, err := e.Stats(r.Context())
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, snap)
		return nil
	})
}

// handleExport streams the table as CSV. Errors raised before the first
// byte are reported as JSON; later ones can only end the stream.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	schemaName, table := chi.URLParam(r, "schema"), chi.URLParam(r, "table")
	s.withEngine(w, r, func(e *engine.Engine) error {
		cw := &lazyCSV{w: w, filename: table + ".csv"}
		_, err := e.ExportTo(r.Context(), transfer.Source{Schema: schemaName, Table: table}, cw)
		if err != nil && cw.started {
			logger.FromContext(r.Context()).WarnWith("export aborted mid-stream", err, map[string]interface{}{"schema": schemaName, "table": table})
			return nil
		}
		return err
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	schemaName, table := chi.URLParam(r, "schema"), chi.URLParam(r, "table")
	s.withEngine(w, r, func(e *engine.Engine) error {
		rep, err := e.ImportFrom(r.Context(), r.Body, table, schemaName)
		if err != nil && rep != nil {
			// Batches before the stop are committed; report them with the error.
			writeJSON(w, StatusFor(err), stoppedImportBody{Error: detailFor(r, err), Report: rep})
			return nil
		}
		if err != nil {
			return err
		}
		status := http.StatusOK
		if ferr := rep.Err(); ferr != nil {
			status = StatusFor(ferr)
		}
		writeJSON(w, status, rep)
		return nil
	})
}

// lazyCSV sets the CSV response headers on the first write.
type lazyCSV struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (c *lazyCSV) Write(p []byte) (int, error) {
	if !c.started {
		c.started = true
		h := c.w.Header()
		h.Set("Content-Type", "text/csv; charset=utf-8")
		h.Set("Content-Disposition", `attachment; filename="`+c.filename+`"`)
		c.w.WriteHeader(http.StatusOK)
	}
	return c.w.Write(p)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.Newf(errs.ErrKindInvalidInput, "query parameter %s must be a non-negative integer", name)
	}
	return n, nil
}

var _ io.Writer = (*lazyCSV)(nil)
