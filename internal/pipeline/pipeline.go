// Package pipeline sequences one snapshot upload: load the golden record,
// normalize, reconcile, save, record history, then notify subscribers.
// Notification is best-effort and never undoes a save.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shipwatch/internal/changelog"
	"shipwatch/internal/dispatch"
	"shipwatch/internal/manifest"
	"shipwatch/internal/metrics"
	"shipwatch/internal/model"
	"shipwatch/internal/normalize"
	"shipwatch/internal/reconcile"
	"shipwatch/internal/registry"
	"shipwatch/internal/state"
)

// ErrSave wraps a store write failure. Nothing was persisted and the upload
// must be retried as a whole.
var ErrSave = errors.New("save golden record")

// maxAttempts bounds how often an upload is re-run after losing a version race
// against another writer of the same store.
const maxAttempts = 5

// Notifier is satisfied by *dispatch.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, events []model.ChangeEvent) dispatch.Summary
}

// Config is fixed per deployment.
type Config struct {
	Schema        model.KeySchema
	Mode          model.MergeMode
	RetentionDays int
	Location      *time.Location // "today" for retention; UTC when nil
}

// Report is returned after every upload that reached the store.
type Report struct {
	UploadID      string           `json:"uploadId"`
	RowsReceived  int              `json:"rowsReceived"`
	RowsDropped   int              `json:"rowsDropped"`
	RowsMerged    int              `json:"rowsMerged"`
	GoldenRecords int              `json:"goldenRecords"`
	Changes       int              `json:"changes"`
	FirstSeen     int              `json:"firstSeen"`
	Evicted       int              `json:"evicted"`
	Version       int64            `json:"version"`
	Notifications dispatch.Summary `json:"notifications"`
	StoreDegraded bool             `json:"storeDegraded"`
	Warnings      []string         `json:"warnings,omitempty"`
}

type Pipeline struct {
	mu         sync.Mutex // serializes uploads in this process; the store's version check covers the rest
	cfg        Config
	store      state.Store
	registry   registry.Registry
	notifier   Notifier
	publisher  manifest.Publisher
	normalizer *normalize.Normalizer
	logger     zerolog.Logger
	metrics    *metrics.Registry
	now        func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithPublisher publishes the manifest after each save.
func WithPublisher(p manifest.Publisher) Option { return func(pl *Pipeline) { pl.publisher = p } }

// WithMetrics records upload metrics.
func WithMetrics(m *metrics.Registry) Option { return func(pl *Pipeline) { pl.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(pl *Pipeline) { pl.now = now } }

func New(cfg Config, st state.Store, reg registry.Registry, n Notifier, logger zerolog.Logger, opts ...Option) *Pipeline {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Mode == "" {
		cfg.Mode = model.MergeCumulative
	}
	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		registry:   reg,
		notifier:   n,
		normalizer: normalize.New(cfg.Schema, logger),
		logger:     logger,
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Upload reconciles rows against the stored golden record. The returned error
// is non-nil only when the new state could not be saved.
func (p *Pipeline) Upload(ctx context.Context, rows []normalize.Row) (Report, error) {
	ctx, span := otel.Tracer("shipwatch/pipeline").Start(ctx, "Upload")
	defer span.End()

	uploadID := uuid.NewString()
	var (
		rep    Report
		events []model.ChangeEvent
		err    error
	)
	for attempt := 1; ; attempt++ {
		rep, events, err = p.commit(ctx, uploadID, rows)
		if !errors.Is(err, state.ErrConflict) || attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		p.logger.Warn().Str("upload_id", uploadID).Int("attempt", attempt).Msg("golden record changed underneath, reconciling again")
	}
	if p.metrics != nil {
		p.metrics.Uploads.Inc()
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.UploadFailures.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return rep, err
	}

	// The upload is durable at this point; delivery must not depend on the
	// caller staying connected.
	rep.Notifications = p.notifier.Dispatch(context.WithoutCancel(ctx), events)

	span.SetAttributes(
		attribute.String("upload.id", rep.UploadID),
		attribute.Int("rows.received", rep.RowsReceived),
		attribute.Int("changes", rep.Changes),
		attribute.Int("notifications.sent", rep.Notifications.Sent),
	)
	p.logger.Info().
		Str("upload_id", rep.UploadID).
		Int("rows_received", rep.RowsReceived).
		Int("rows_dropped", rep.RowsDropped).
		Int("rows_merged", rep.RowsMerged).
		Int("changes", rep.Changes).
		Int("first_seen", rep.FirstSeen).
		Int("evicted", rep.Evicted).
		Int("sent", rep.Notifications.Sent).
		Int("failed", rep.Notifications.Failed).
		Bool("store_degraded", rep.StoreDegraded).
		Msg("upload processed")
	return rep, nil
}

// commit runs the serialized part of an upload.
func (p *Pipeline) commit(ctx context.Context, uploadID string, rows []normalize.Row) (Report, []model.ChangeEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	rep := Report{UploadID: uploadID, RowsReceived: len(rows)}
	log := p.logger.With().Str("upload_id", rep.UploadID).Logger()

	loaded, err := p.store.Load(ctx)
	if err != nil {
		rep.StoreDegraded = true
		rep.Warnings = append(rep.Warnings, "previous state unreadable, treating as empty")
		log.Warn().Err(err).Msg("golden record load failed, continuing with empty state")
		loaded = state.Loaded{}
		if p.metrics != nil {
			p.metrics.StoreDegraded.Inc()
		}
	}
	if v := loaded.Manifest.KeySchema; v != "" && v != p.cfg.Schema.Version {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("stored key schema %s differs from configured %s", v, p.cfg.Schema.Version))
		log.Warn().Str("stored", v).Str("configured", p.cfg.Schema.Version).Msg("key schema mismatch, re-keying stored records")
	}

	norm := p.normalizer.Normalize(rows)
	rep.RowsDropped = norm.DroppedTotal()
	if norm.InvalidDates > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d rows with unparsable dates ignored", norm.InvalidDates))
	}
	if len(norm.UnknownColumns) > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("unknown columns ignored: %v", norm.UnknownColumns))
	}

	res := reconcile.Reconcile(loaded.Records, norm.Records, reconcile.Options{
		Schema:        p.cfg.Schema,
		Mode:          p.cfg.Mode,
		RetentionDays: p.cfg.RetentionDays,
		Today:         model.DateOf(now.In(p.cfg.Location)),
	})
	rep.RowsMerged = res.Stats.Unique
	rep.GoldenRecords = len(res.Next)
	rep.Changes = res.Stats.Changed
	rep.FirstSeen = res.Stats.FirstSeen
	rep.Evicted = res.Stats.Evicted
	if res.Stats.StaleKeys > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d stored records have no key under schema %s and were dropped", res.Stats.StaleKeys, p.cfg.Schema.Version))
	}

	m := loaded.Manifest.Next(p.cfg.Schema.Version, len(res.Next), rep.UploadID, now)
	if err := p.store.Save(ctx, res.Next, m); err != nil {
		log.Error().Err(err).Msg("golden record save failed")
		return rep, nil, fmt.Errorf("%w: %w", ErrSave, err)
	}
	rep.Version = m.Version
	p.observe(rep)

	entry := changelog.Entry{
		ID:           rep.UploadID,
		UploadedAt:   now.UTC(),
		RowsReceived: rep.RowsReceived,
		RowsDropped:  rep.RowsDropped,
		RowsMerged:   rep.RowsMerged,
		Changes:      rep.Changes,
		Evicted:      rep.Evicted,
		Version:      m.Version,
		Degraded:     rep.StoreDegraded,
	}
	if err := p.store.AppendUploadHistory(ctx, entry); err != nil {
		rep.Warnings = append(rep.Warnings, "upload history not recorded")
		log.Warn().Err(err).Msg("append upload history")
		if p.metrics != nil {
			p.metrics.HistoryAppendErrors.Inc()
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishLatest(ctx, m); err != nil {
			log.Warn().Err(err).Int64("version", m.Version).Msg("publish manifest")
			if p.metrics != nil {
				p.metrics.ManifestErrors.Inc()
			}
		}
	}
	return rep, res.Events, nil
}

func (p *Pipeline) observe(rep Report) {
	if p.metrics == nil {
		return
	}
	p.metrics.RowsReceived.Add(float64(rep.RowsReceived))
	p.metrics.RowsDropped.Add(float64(rep.RowsDropped))
	p.metrics.RowsMerged.Add(float64(rep.RowsMerged))
	p.metrics.Changes.WithLabelValues("changed").Add(float64(rep.Changes))
	p.metrics.Changes.WithLabelValues("first_seen").Add(float64(rep.FirstSeen))
	p.metrics.Evicted.Add(float64(rep.Evicted))
	p.metrics.GoldenRecords.Set(float64(rep.GoldenRecords))
}

// Subscribe points the destination's short id at target, replacing any
// previous target.
func (p *Pipeline) Subscribe(ctx context.Context, destination, target string) error {
	shortID := model.ShortID(destination)
	if err := p.registry.Upsert(ctx, shortID, target); err != nil {
		return fmt.Errorf("subscribe %s: %w", shortID, err)
	}
	p.logger.Info().Str("short_id", shortID).Msg("subscription updated")
	return nil
}

// Lookup returns the current target for a destination.
func (p *Pipeline) Lookup(ctx context.Context, destination string) (string, bool, error) {
	return p.registry.Resolve(ctx, model.ShortID(destination))
}
