package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/KaramelBytes/forecastdesk/internal/dataset"
	"github.com/KaramelBytes/forecastdesk/internal/ingest"
	"github.com/KaramelBytes/forecastdesk/internal/store"
)

type askRequest struct {
	Question *string `json:"question"`
}

type askResponse struct {
	Answer string  `json:"answer"`
	Chart  *string `json:"chart"`
}

type noDataResponse struct {
	Answer      string `json:"answer"`
	DBConnected bool   `json:"db_connected"`
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	if !s.d.Limiter.Allow(clientAddr(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"answer": "Rate limit exceeded"})
		return
	}
	var req askRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == nil {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	ans, err := s.d.Asker.Ask(r.Context(), *req.Question)
	if err != nil {
		s.log.Error("ask failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"answer": "Server error"})
		return
	}
	if ans.NoData {
		writeJSON(w, http.StatusOK, noDataResponse{Answer: ans.Text, DBConnected: ans.DBConnected})
		return
	}
	resp := askResponse{Answer: ans.Text}
	if len(ans.Chart) > 0 {
		enc := base64.StdEncoding.EncodeToString(ans.Chart)
		resp.Chart = &enc
	}
	writeJSON(w, http.StatusOK, resp)
}

type uploadRequest struct {
	CSVURL    string `json:"csv_url"`
	TableName string `json:"table_name"`
}

func (s *Server) uploadCSV(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.CSVURL = strings.TrimSpace(req.CSVURL)
	req.TableName = strings.TrimSpace(req.TableName)
	if req.CSVURL == "" || req.TableName == "" {
		writeError(w, http.StatusBadRequest, "csv_url and table_name are required")
		return
	}
	if !store.ValidTableName(req.TableName) {
		writeError(w, http.StatusBadRequest, "table_name must be a letter or underscore followed by letters, digits or underscores")
		return
	}
	if s.d.Writer == nil || s.d.Fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	frame, err := s.d.Fetcher.FetchCSV(r.Context(), req.CSVURL, ingest.CSVOptions{Sanitize: true})
	if errors.Is(err, ingest.ErrEmpty) {
		writeError(w, http.StatusBadRequest, "csv has no header row")
		return
	}
	if err != nil {
		s.log.Error("upload_csv fetch failed", zap.String("url", req.CSVURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n, err := s.d.Writer.AppendTable(r.Context(), req.TableName, frame)
	if err != nil {
		s.log.Error("upload_csv write failed", zap.String("table", req.TableName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.d.Forecasts.Invalidate(r.Context())
	s.log.Info("csv uploaded", zap.String("table", req.TableName), zap.Int("rows", n))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rows": n, "table": req.TableName})
}

func (s *Server) allForecasts(w http.ResponseWriter, r *http.Request) {
	snap, err := s.d.Forecasts.Load(r.Context())
	if err != nil || snap.Table.Empty() {
		writeError(w, http.StatusInternalServerError, "No data found or unable to connect to the database")
		return
	}
	writeJSON(w, http.StatusOK, snap.Table.Maps(false))
}

func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	sheet := strings.TrimSpace(r.URL.Query().Get("sheet"))
	if sheet == "" {
		writeError(w, http.StatusBadRequest, "Please specify a sheet name")
		return
	}
	t, physical, err := s.d.Forecasts.Lookup(r.Context(), sheet)
	if err != nil {
		var rerr *dataset.ResolveError
		if errors.As(err, &rerr) && rerr.Unreachable() {
			writeError(w, http.StatusServiceUnavailable, "data source unavailable")
			return
		}
		writeError(w, http.StatusNotFound, "sheet "+sheet+" not found")
		return
	}
	w.Header().Set("X-Physical-Table", physical)
	writeJSON(w, http.StatusOK, t.Maps(false))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"ok": true, "db": nil}
	if s.d.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.d.Store.Ping(ctx); err != nil {
			status["ok"] = false
			status["db"] = false
			status["error"] = err.Error()
		} else {
			status["db"] = true
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	storeOK := false
	if s.d.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		storeOK = s.d.Store.Ping(ctx) == nil
	}
	cache := s.d.CacheBackend
	if cache == "" {
		cache = "none"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
		"genai": s.d.Asker.HasRuntime(),
		"store": storeOK,
		"cache": cache,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
