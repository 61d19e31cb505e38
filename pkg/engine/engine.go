// Package engine runs the repeated-event pipeline over one table:
// resolve columns, normalize events, classify, aggregate, assemble.
//
// A run is synchronous and depends only on its table and Params. Concurrent
// runs share nothing but the logger.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/logflow/svctools/internal/logging"
	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/aggregate"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/report"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/table"
	"github.com/logflow/svctools/pkg/telemetry"
	"github.com/logflow/svctools/pkg/window"
)

// Engine runs analyses.
type Engine struct {
	logger *zap.Logger
	newID  func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: zap.NewNop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run analyzes tbl with a default Engine.
func Run(ctx context.Context, tbl *table.Table, p Params) (*report.Result, error) {
	return New().Run(ctx, tbl, p)
}

// Run analyzes tbl. A MissingField error aborts before any event is
// classified; unparseable rows are counted in the result instead.
func (e *Engine) Run(ctx context.Context, tbl *table.Table, p Params) (res *report.Result, err error) {
	if tbl == nil {
		return nil, svcerr.InvalidParams("no input table")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	runID := e.newID()
	log := e.logger.With(zap.String("run_id", runID), zap.String("table", tbl.Name))
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "engine.Run",
		attribute.String("run_id", runID),
		attribute.String("mode", string(p.Mode)),
		attribute.Int("window_days", p.WindowDays),
		attribute.Int("rows", tbl.Len()),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	// resolve
	if err := checkCtx(ctx, "resolve"); err != nil {
		return nil, err
	}
	stageStart := time.Now()
	resolution, err := resolve.Resolve(tbl.Columns, p.Fields, p.Overrides)
	if err != nil {
		log.Warn("column resolution failed", zap.Error(err))
		return nil, withTable(err, tbl.Name)
	}
	for _, m := range resolution.Matches {
		log.Debug("column resolved",
			zap.String("field", string(m.Field)),
			zap.String("column", m.Column),
			zap.Stringer("pass", m.Pass))
	}
	breakdownCol := -1
	if p.Breakdown != "" {
		if breakdownCol = columnIndex(tbl, p.Breakdown); breakdownCol < 0 {
			return nil, svcerr.MissingField([]string{p.Breakdown}, tbl.Columns).WithContext("table", tbl.Name)
		}
	}
	log.Debug("stage done", zap.String("stage", "resolve"), zap.Duration("took", time.Since(stageStart)))

	// normalize
	if err := checkCtx(ctx, "normalize"); err != nil {
		return nil, err
	}
	stageStart = time.Now()
	events, stats := normalize.Normalize(tbl, resolution, normalize.Options{
		DateOrder: p.DateOrder,
		Location:  p.Location,
		From:      p.From,
		To:        p.To,
		Numeric:   p.Numeric,
		Kinds:     p.Kinds,
	})
	log.Debug("stage done",
		zap.String("stage", "normalize"),
		zap.Int("events", events.Len()),
		zap.Int("entities", len(events.Timelines)),
		zap.Duration("took", time.Since(stageStart)))
	if n := stats.Excluded(); n > 0 {
		log.Info("rows excluded",
			zap.Int("excluded", n),
			zap.Int("invalid_timestamp", stats.InvalidTimestamp),
			zap.Int("invalid_numeric", stats.InvalidNumeric),
			zap.Int("missing_entity", stats.MissingEntity),
			zap.Int("out_of_range", stats.OutOfRange))
	}

	// classify
	if err := checkCtx(ctx, "classify"); err != nil {
		return nil, err
	}
	stageStart = time.Now()
	wp := window.Params{
		Mode:        p.Mode,
		WindowDays:  p.WindowDays,
		RepeatLabel: p.RepeatLabel,
		Now:         p.Now,
		ScopeMatch:  p.ScopeMatch,
		LatestOnly:  p.LatestOnly,
	}
	if p.ScopeMatch && !resolution.Has(resolve.FieldScope) {
		wp.ScopeBySecondary = true
		log.Debug("no scope column, matching scope on secondary key")
	}
	cls := window.Classify(events, wp)
	log.Debug("stage done", zap.String("stage", "classify"), zap.Int("classified", len(cls)),
		zap.Duration("took", time.Since(stageStart)))

	// aggregate
	if err := checkCtx(ctx, "aggregate"); err != nil {
		return nil, err
	}
	groups := aggregate.Group(events, cls, p.Mode, aggregate.BySecondary)
	entities := aggregate.Group(events, cls, p.Mode, aggregate.ByEntity)
	overall := aggregate.Overall(events, cls, p.Mode)

	var breakdown []aggregate.Summary
	if breakdownCol >= 0 {
		breakdown = aggregate.Breakdown(events, cls, p.Mode, func(e model.Event) string {
			return normalize.CleanKey(tbl.Cell(e.Row, breakdownCol))
		})
	}

	res = report.Assemble(report.Input{
		RunID: runID,
		Info: report.RunInfo{
			Preset:      p.Preset,
			Mode:        p.Mode,
			WindowDays:  p.WindowDays,
			RepeatLabel: p.RepeatLabel,
			Now:         p.Now,
			From:        p.From,
			To:          p.To,
			ScopeMatch:  p.ScopeMatch,
			LatestOnly:  p.LatestOnly,
			Breakdown:   p.Breakdown,
			DateOrder:   stats.DateOrder,
			Columns:     resolution.Mapping(),
		},
		Source:          tbl,
		Events:          events,
		Classifications: cls,
		Stats:           stats,
		Groups:          groups,
		Entities:        entities,
		Breakdown:       breakdown,
		Overall:         overall,
	})

	span.SetAttributes(
		attribute.Int("events", len(cls)),
		attribute.Int("matching", overall.Matching),
		attribute.Int("excluded", stats.Excluded()),
	)
	log.Debug("run complete",
		zap.Int("total", overall.Total),
		zap.Int("matching", overall.Matching),
		zap.Float64("percentage", overall.Percentage),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

// columnIndex finds a column by exact name, then by folded name.
func columnIndex(tbl *table.Table, name string) int {
	if i := tbl.Index(name); i >= 0 {
		return i
	}
	want := resolve.Normalize(name)
	for i, c := range tbl.Columns {
		if resolve.Normalize(c) == want {
			return i
		}
	}
	return -1
}

func checkCtx(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return svcerr.ContextCanceled(stage, err)
	}
	return nil
}

func withTable(err error, name string) error {
	if se, ok := err.(*svcerr.SvcError); ok {
		return se.WithContext("table", name)
	}
	return err
}
