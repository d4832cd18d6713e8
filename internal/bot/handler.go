// Package bot executes conversation transitions against the session store,
// the messaging transport and the report sinks.
package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"park_reports/internal/blob"
	"park_reports/internal/config"
	"park_reports/internal/conversation"
	"park_reports/internal/events"
	"park_reports/internal/metrics"
	"park_reports/internal/notify"
	"park_reports/internal/photo"
	"park_reports/internal/records"
	"park_reports/internal/session"
	"park_reports/internal/sheets"
	"park_reports/internal/store"
)

// Sink names used in logs, the ledger and metrics.
const (
	SinkPhoto      = "photo"
	SinkRecords    = "records"
	SinkCollection = "collection_upload"
	SinkSheet      = "sheet"
	SinkNotify     = "notify"
	SinkLedger     = "ledger"
)

// Transport delivers replies and fetches user attachments.
type Transport interface {
	Send(ctx context.Context, r conversation.Reply) error
	Download(ctx context.Context, fileID, dst string) error
}

// Ledger keeps the per-report audit trail.
type Ledger interface {
	RecordReport(ctx context.Context, r store.Report) error
	RecordSinkResult(ctx context.Context, reportID, sink string, sinkErr error, ts time.Time) error
}

// CatalogSource yields the catalog in effect for the next message.
type CatalogSource interface {
	Catalog() config.Catalog
}

// Options wires a Handler. Blobs, Sheet, Notifier, Ledger and Bus are optional.
type Options struct {
	Catalog      CatalogSource
	Sessions     session.Store
	Transport    Transport
	Records      records.Collection
	Blobs        blob.Uploader
	Sheet        sheets.Appender
	Notifier     notify.Notifier
	Ledger       Ledger
	Bus          *events.Bus
	Metrics      *metrics.Metrics
	WorkDir      string
	PhotoMaxEdge int
	SinkTimeout  time.Duration
	Location     *time.Location
	Now          func() time.Time
}

// Handler processes one inbound message at a time per user.
type Handler struct {
	opts Options
}

func New(opts Options) *Handler {
	if opts.Catalog == nil {
		opts.Catalog = config.NewLiveCatalog(config.DefaultCatalog())
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{opts: opts}
}

// Sessions exposes the session store for the ops surface.
func (h *Handler) Sessions() session.Store { return h.opts.Sessions }

// Handle runs one message through the state machine, executes the
// resulting effects and sends the reply. Sink failures are logged and
// recorded but never change the reply.
func (h *Handler) Handle(ctx context.Context, in conversation.Input) error {
	h.opts.Metrics.IncMessages()
	var cur *session.Submission
	if s, ok := h.opts.Sessions.Get(in.UserID); ok {
		cur = &s
	}
	prev := session.StateIdle
	if cur != nil {
		prev = cur.State
	}

	res := conversation.Step(h.opts.Catalog.Catalog(), cur, in, h.opts.Now())
	h.count(res)
	if res.Replaced {
		log.Printf("user=%d previous report %s replaced", in.UserID, cur.ID)
	}

	for _, eff := range res.Effects {
		switch eff.Kind {
		case conversation.EffectUploadPhoto:
			if res.Session != nil {
				res.Session.PhotoRef = h.storePhoto(ctx, *res.Session, eff.FileID)
			}
		case conversation.EffectFinalize:
			if res.Completed != nil {
				h.finalize(ctx, *res.Completed)
			}
		}
	}

	if res.Session != nil {
		h.opts.Sessions.Put(*res.Session)
	} else {
		h.opts.Sessions.Delete(in.UserID)
	}
	next := session.StateIdle
	if res.Session != nil {
		next = res.Session.State
	}
	log.Printf("user=%d kind=%s outcome=%s state=%s->%s", in.UserID, in.Kind, res.Outcome, prev, next)

	if err := h.opts.Transport.Send(ctx, res.Reply); err != nil {
		return fmt.Errorf("send reply user=%d: %w", in.UserID, err)
	}
	return nil
}

func (h *Handler) count(res conversation.Result) {
	m := h.opts.Metrics
	switch res.Outcome {
	case conversation.OutcomeStarted:
		m.IncStarted()
	case conversation.OutcomeCompleted:
		m.IncCompleted()
	case conversation.OutcomeCancelled:
		m.IncCancelled()
	case conversation.OutcomeReprompt:
		m.IncReprompts()
	}
	if res.Replaced {
		m.IncReplaced()
	}
}

// storePhoto downloads, normalizes and uploads the photo. It returns the
// remote id, or the Telegram file id when any step fails.
func (h *Handler) storePhoto(ctx context.Context, sub session.Submission, fileID string) string {
	if h.opts.Blobs == nil {
		return fileID
	}
	local := filepath.Join(h.opts.WorkDir, fmt.Sprintf("segnalazione_%s.jpg", sub.ID))
	defer os.Remove(local)

	var ref string
	err := h.withTimeout(ctx, func(ctx context.Context) error {
		if err := h.opts.Transport.Download(ctx, fileID, local); err != nil {
			return fmt.Errorf("download: %w", err)
		}
		if _, err := photo.Shrink(local, h.opts.PhotoMaxEdge); err != nil {
			log.Printf("report=%s photo left as downloaded: %v", sub.ID, err)
		}
		id, err := h.opts.Blobs.Upload(ctx, local)
		ref = id
		return err
	})
	h.recordSink(ctx, sub.ID, SinkPhoto, err)
	if err != nil || ref == "" {
		return fileID
	}
	return ref
}

func (h *Handler) finalize(ctx context.Context, sub session.Submission) {
	at := h.opts.Now().In(h.opts.Location)
	rep := records.Report{
		Photo:       sub.PhotoRef,
		Category:    sub.Category,
		Description: sub.Description,
		Timestamp:   at.Format(records.TimestampLayout),
		Longitude:   sub.Longitude,
		Latitude:    sub.Latitude,
	}
	sinkErrs := map[string]string{}
	run := func(name string, fn func(context.Context) error) {
		err := h.withTimeout(ctx, fn)
		h.recordSink(ctx, sub.ID, name, err)
		if err != nil {
			sinkErrs[name] = err.Error()
		}
	}

	run(SinkRecords, func(ctx context.Context) error {
		return h.opts.Records.Append(ctx, rep)
	})
	if h.opts.Blobs != nil {
		run(SinkCollection, func(ctx context.Context) error {
			_, err := blob.UploadAll(ctx, h.opts.Blobs, h.opts.Records.Files())
			return err
		})
	}
	if h.opts.Sheet != nil {
		row := sheets.Row{
			Timestamp:   rep.Timestamp,
			Category:    rep.Category,
			Description: rep.Description,
			Latitude:    rep.Latitude,
			Longitude:   rep.Longitude,
		}
		run(SinkSheet, func(ctx context.Context) error {
			return h.opts.Sheet.AppendRow(ctx, row)
		})
	}
	if h.opts.Notifier != nil {
		run(SinkNotify, func(ctx context.Context) error {
			return h.opts.Notifier.Notify(ctx, notify.Summary(rep))
		})
	}

	if h.opts.Ledger != nil {
		err := h.withTimeout(ctx, func(ctx context.Context) error {
			return h.opts.Ledger.RecordReport(ctx, store.Report{
				ID:          sub.ID,
				UserID:      sub.UserID,
				ChatID:      sub.ChatID,
				Category:    sub.Category,
				Description: sub.Description,
				Latitude:    sub.Latitude,
				Longitude:   sub.Longitude,
				PhotoRef:    sub.PhotoRef,
				ReportedAt:  rep.Timestamp,
				CreatedAt:   at,
			})
		})
		if err != nil {
			h.opts.Metrics.RecordSink(SinkLedger, err)
			log.Printf("sink=%s report=%s err=%v", SinkLedger, sub.ID, err)
		}
	}

	if h.opts.Bus != nil {
		h.opts.Bus.Publish(events.ReportFinalized{
			ReportID:    sub.ID,
			Category:    rep.Category,
			Description: rep.Description,
			Latitude:    rep.Latitude,
			Longitude:   rep.Longitude,
			PhotoRef:    rep.Photo,
			Timestamp:   rep.Timestamp,
			SinkErrors:  sinkErrs,
			At:          at,
		})
	}
	log.Printf("report=%s user=%d category=%q finalized failed_sinks=%d", sub.ID, sub.UserID, sub.Category, len(sinkErrs))
}

func (h *Handler) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.SinkTimeout)
	defer cancel()
	return fn(ctx)
}

func (h *Handler) recordSink(ctx context.Context, reportID, sink string, err error) {
	h.opts.Metrics.RecordSink(sink, err)
	if err != nil {
		log.Printf("sink=%s report=%s err=%v", sink, reportID, err)
	}
	if h.opts.Ledger == nil {
		return
	}
	lerr := h.withTimeout(ctx, func(ctx context.Context) error {
		return h.opts.Ledger.RecordSinkResult(ctx, reportID, sink, err, h.opts.Now())
	})
	if lerr != nil {
		log.Printf("sink=%s report=%s ledger err=%v", SinkLedger, reportID, lerr)
	}
}
