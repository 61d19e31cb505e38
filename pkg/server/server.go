// Package server provides the HTTP upload service: post an export, get the
// report back.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/logflow/svctools/internal/logging"
	"github.com/logflow/svctools/pkg/engine"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/export"
	"github.com/logflow/svctools/pkg/mismatch"
	"github.com/logflow/svctools/pkg/preset"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/table"
)

// Options configures a Server.
type Options struct {
	// MaxUploadSize bounds the request body in bytes.
	MaxUploadSize int64

	// RunTimeout bounds one analysis.
	RunTimeout time.Duration

	CORSOrigins []string

	// DefaultPreset is used when a request names none.
	DefaultPreset string

	// DateOrder and Location apply when a request does not set them.
	DateOrder string
	Location  *time.Location

	Presets *preset.Registry
	Runs    *RunStore
	Logger  *zap.Logger

	// Now is the clock for complementary runs without as_of.
	Now func() time.Time
}

// Server handles HTTP requests.
type Server struct {
	router  chi.Router
	engine  *engine.Engine
	opts    Options
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 100 << 20
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	if opts.DefaultPreset == "" {
		opts.DefaultPreset = "repeat-calls"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Presets == nil {
		opts.Presets = preset.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Runs == nil {
		runs, err := NewRunStore("", 0)
		if err != nil {
			return nil, err
		}
		opts.Runs = runs
	}
	logger := logging.OrNop(opts.Logger)

	s := &Server{
		engine:  engine.New(engine.WithLogger(logger)),
		opts:    opts,
		metrics: NewMetrics(),
		logger:  logger,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.Middleware)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/presets", s.handlePresets)
		r.Get("/presets/{name}", s.handlePreset)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/columns", s.handleColumns)
		r.Post("/mismatch", s.handleMismatch)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRun)
	})
	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
		defer cancel()
		s.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "X-Run-ID, Content-Disposition")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, o := range s.opts.CORSOrigins {
		if o == "*" || o == origin {
			return o
		}
	}
	return ""
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"presets": len(s.opts.Presets.Names()),
		"runs":    s.opts.Runs.Count(),
	})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.opts.Presets.List())
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	p, err := s.opts.Presets.Get(chi.URLParam(r, "name"))
	if err != nil {
		jsonError(w, http.StatusNotFound, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.opts.Runs.List()
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n >= 0 && n < len(runs) {
		runs = runs[:n]
	}
	jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.opts.Runs.Get(chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, svcerr.New(svcerr.CodeInvalidParams, "run not found"))
		return
	}
	jsonResponse(w, http.StatusOK, run)
}

// uploadForm is a parsed multipart request.
type uploadForm struct {
	name  string
	table *table.Table
	form  map[string][]string
}

func (u *uploadForm) value(key string) string {
	if v := u.form[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func (u *uploadForm) values(key string) []string {
	var out []string
	for _, v := range u.form[key] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// readUpload parses the multipart body and loads the "file" part as a table.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, svcerr.New(svcerr.CodeInputTooLarge, "upload too large").
				WithContext("limit", tooBig.Limit)
		}
		return nil, svcerr.Wrap(err, svcerr.CodeInvalidParams, "failed to parse upload")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, svcerr.New(svcerr.CodeInvalidParams, "no file provided")
	}
	defer file.Close()

	u := &uploadForm{name: header.Filename, form: r.MultipartForm.Value}
	tbl, err := table.Read(r.Context(), file, header.Filename, table.DetectFormat(header.Filename),
		table.Options{Sheet: u.value("sheet")})
	if err != nil {
		return nil, err
	}
	u.table = tbl
	return u, nil
}

func (s *Server) runOptions(u *uploadForm) (preset.RunOptions, error) {
	opts := preset.RunOptions{
		AsOf:      u.value("as_of"),
		From:      u.value("from"),
		To:        u.value("to"),
		DateOrder: u.value("date_order"),
		Location:  s.opts.Location,
		Columns:   u.values("map"),
		Breakdown: u.value("breakdown"),
	}
	if opts.DateOrder == "" {
		opts.DateOrder = s.opts.DateOrder
	}
	if v := u.value("window"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return opts, svcerr.InvalidParams(fmt.Sprintf("invalid window: %q", v))
		}
		opts.WindowDays = &days
	}
	for key, dst := range map[string]**bool{"latest_only": &opts.LatestOnly, "scope_match": &opts.ScopeMatch} {
		if v := u.value(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, svcerr.InvalidParams(fmt.Sprintf("invalid %s: %q", key, v))
			}
			*dst = &b
		}
	}
	return opts, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		jsonError(w, statusFor(err), err)
		return
	}

	name := u.value("preset")
	if name == "" {
		name = s.opts.DefaultPreset
	}
	p, err := s.opts.Presets.Get(name)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := s.runOptions(u)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}
	params, err := p.Build(opts, s.opts.Now)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}
	format, err := responseFormat(u.value("format"), r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RunTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.engine.Run(ctx, u.table, params)
	s.metrics.ObserveRun(p.Name, string(p.Mode), res, time.Since(start))

	record := &RunRecord{
		Input:     u.name,
		Preset:    p.Name,
		Mode:      string(params.Mode),
		StartTime: start,
	}
	end := time.Now()
	record.EndTime = &end
	if err != nil {
		record.ID = middleware.GetReqID(r.Context())
		record.Status = StatusFailed
		record.Error = err.Error()
		record.ErrorCode = string(svcerr.GetCode(err))
		s.storeRun(record)
		jsonError(w, statusFor(err), err)
		return
	}
	record.ID = res.RunID
	record.Status = StatusCompleted
	record.Rows = res.Overall.Rows
	record.Excluded = res.Overall.Excluded
	record.Total = res.Overall.Total
	record.Matching = res.Overall.Matching
	record.Percentage = res.Overall.Percentage
	s.storeRun(record)

	var buf bytes.Buffer
	if err := export.Write(&buf, res, format, export.Options{}); err != nil {
		jsonError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("X-Run-ID", res.RunID)
	writeAttachment(w, buf.Bytes(), format, reportName(u.name, p.Name, format))
}

func (s *Server) storeRun(r *RunRecord) {
	if r.ID == "" {
		return
	}
	if err := s.opts.Runs.Put(r); err != nil {
		s.logger.Warn("failed to persist run", zap.String("run_id", r.ID), zap.Error(err))
	}
}

// columnsResponse describes how a preset resolves against an upload.
type columnsResponse struct {
	Name       string                     `json:"name"`
	Columns    []string                   `json:"columns"`
	Rows       int                        `json:"rows"`
	Mapping    map[resolve.Field]string   `json:"mapping"`
	Passes     map[resolve.Field]string   `json:"passes"`
	Unresolved []resolve.Field            `json:"unresolved"`
	Ambiguous  map[resolve.Field][]string `json:"ambiguous,omitempty"`
	Missing    []string                   `json:"missing,omitempty"`
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		jsonError(w, statusFor(err), err)
		return
	}
	name := u.value("preset")
	if name == "" {
		name = s.opts.DefaultPreset
	}
	p, err := s.opts.Presets.Get(name)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}
	overrides, err := resolve.ParseOverrides(u.values("map"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}

	res, resErr := resolve.Resolve(u.table.Columns, p.Fields, overrides)
	out := columnsResponse{
		Name:       u.name,
		Columns:    u.table.Columns,
		Rows:       u.table.Len(),
		Mapping:    res.Mapping(),
		Passes:     make(map[resolve.Field]string, len(res.Matches)),
		Unresolved: res.Unresolved,
		Ambiguous:  res.Ambiguous,
		Missing:    svcerr.Fields(resErr),
	}
	for _, m := range res.Matches {
		out.Passes[m.Field] = m.Pass.String()
	}
	if out.Unresolved == nil {
		out.Unresolved = []resolve.Field{}
	}
	jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleMismatch(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		jsonError(w, statusFor(err), err)
		return
	}
	params := mismatch.DefaultParams()
	if entity := u.value("entity"); entity != "" {
		params.Entity.Candidates = []string{entity}
		params.Entity.Keywords = nil
	}
	if attrs := u.values("attribute"); len(attrs) > 0 {
		params.Attributes = attrs
	}
	format, err := responseFormat(u.value("format"), r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RunTimeout)
	defer cancel()
	res, err := mismatch.Analyze(ctx, u.table, params)
	if err != nil {
		jsonError(w, statusFor(err), err)
		return
	}

	if format == export.FormatJSON {
		jsonResponse(w, http.StatusOK, res)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteMismatchXLSX(&buf, res, u.table, export.Options{}); err != nil {
		jsonError(w, http.StatusInternalServerError, err)
		return
	}
	writeAttachment(w, buf.Bytes(), format, reportName(u.name, "mismatch", format))
}

// responseFormat picks the format from the form, then the Accept header.
func responseFormat(v string, r *http.Request) (export.Format, error) {
	if v == "" && strings.Contains(r.Header.Get("Accept"), "application/json") {
		return export.FormatJSON, nil
	}
	return export.ParseFormat(v)
}

func reportName(input, suffix string, format export.Format) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if base == "" || base == "." {
		base = "report"
	}
	return base + "-" + suffix + "." + string(format)
}

func writeAttachment(w http.ResponseWriter, data []byte, format export.Format, name string) {
	w.Header().Set("Content-Type", format.ContentType())
	if format == export.FormatXLSX {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch svcerr.GetCode(err) {
	case svcerr.CodeMissingField, svcerr.CodeEmptyInput, svcerr.CodeInvalidFormat, svcerr.CodeParseFailed:
		return http.StatusUnprocessableEntity
	case svcerr.CodeInvalidParams:
		return http.StatusBadRequest
	case svcerr.CodeInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case svcerr.CodeFileNotFound:
		return http.StatusNotFound
	case svcerr.CodeContextCanceled, svcerr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, err error) {
	body := map[string]interface{}{
		"error": err.Error(),
		"code":  string(svcerr.GetCode(err)),
	}
	if fields := svcerr.Fields(err); len(fields) > 0 {
		body["fields"] = fields
	}
	var se *svcerr.SvcError
	if errors.As(err, &se) {
		if avail, ok := se.Context["available"]; ok {
			body["available"] = avail
		}
	}
	jsonResponse(w, status, body)
}
