package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"park_reports/internal/blob"
	"park_reports/internal/bot"
	"park_reports/internal/config"
	"park_reports/internal/conversation"
	"park_reports/internal/events"
	"park_reports/internal/httpapi"
	"park_reports/internal/metrics"
	"park_reports/internal/notify"
	"park_reports/internal/queue"
	"park_reports/internal/records"
	"park_reports/internal/session"
	"park_reports/internal/sheets"
	"park_reports/internal/store"
	"park_reports/internal/telegram"
	"park_reports/internal/watch"
)

// Transport is the messaging side: it delivers replies, serves downloads
// and feeds inbound messages to a callback.
type Transport interface {
	bot.Transport
	Run(ctx context.Context, handle func(context.Context, conversation.Input)) error
}

// App wires the bot components together.
type App struct {
	cfg       config.Config
	store     *store.Store
	queue     *queue.Queue
	handler   *bot.Handler
	transport Transport
	watcher   *watch.CatalogWatcher
	mux       *http.ServeMux
}

// New connects to Telegram and builds the app.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	tg, err := telegram.New(cfg.TelegramToken, cfg.TelegramDebug)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, tg)
}

// Build wires every component around an existing transport. Remote sinks
// are enabled only when their identifiers are configured.
func Build(ctx context.Context, cfg config.Config, transport Transport) (*App, error) {
	for _, dir := range []string{cfg.DataDir, cfg.WorkDir, filepath.Dir(cfg.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	shp, err := records.NewShapefile(cfg.CollectionBase())
	if err != nil {
		st.Close()
		return nil, err
	}
	var collection records.Collection = shp
	if cfg.PostGISDSN != "" {
		pg, err := records.ConnectPostGIS(cfg.PostGISDSN, 5, 2*time.Second)
		if err != nil {
			log.Printf("postgis mirror disabled: %v", err)
		} else {
			collection = records.Multi{Primary: shp, Mirrors: []records.Sink{pg}}
		}
	}

	var uploader blob.Uploader
	if cfg.DriveFolderID != "" {
		d, err := blob.NewDrive(ctx, cfg.ServiceAccountFile, cfg.DriveFolderID)
		if err != nil {
			log.Printf("drive uploads disabled: %v", err)
		} else {
			uploader = d
		}
	}
	var sheet sheets.Appender
	if cfg.SheetID != "" {
		s, err := sheets.NewSheet(ctx, cfg.ServiceAccountFile, cfg.SheetID, cfg.SheetRange)
		if err != nil {
			log.Printf("sheet rows disabled: %v", err)
		} else {
			sheet = s
		}
	}
	var notifier notify.Notifier
	if cfg.GroupMeBotID != "" {
		notifier = notify.NewGroupMe(cfg.GroupMeBotID, cfg.GroupMeURL)
	}

	live := config.NewLiveCatalog(cfg.Catalog)
	var watcher *watch.CatalogWatcher
	if cfg.EnableCatalogWatch && cfg.CatalogPath != "" {
		if _, err := os.Stat(cfg.CatalogPath); err == nil {
			watcher = watch.New(cfg.CatalogPath, live)
		}
	}

	m := metrics.New()
	bus := events.NewBus()
	sessions := session.NewMemoryStore()
	handler := bot.New(bot.Options{
		Catalog:      live,
		Sessions:     sessions,
		Transport:    transport,
		Records:      collection,
		Blobs:        uploader,
		Sheet:        sheet,
		Notifier:     notifier,
		Ledger:       st,
		Bus:          bus,
		Metrics:      m,
		WorkDir:      cfg.WorkDir,
		PhotoMaxEdge: cfg.PhotoMaxEdge,
		SinkTimeout:  cfg.SinkTimeout(),
		Location:     cfg.Location,
	})

	// a finalization runs up to six sinks back to back
	q := queue.New(cfg.QueueSize, cfg.WorkerCount, 6*cfg.SinkTimeout()+30*time.Second)

	mux := http.NewServeMux()
	httpapi.NewRouter(st, q, sessions, m, bus).Register(mux)

	return &App{cfg: cfg, store: st, queue: q, handler: handler, transport: transport, watcher: watcher, mux: mux}, nil
}

// Dispatch queues a message on its user's lane.
func (a *App) Dispatch(ctx context.Context, in conversation.Input) {
	id := strconv.FormatInt(in.UserID, 10)
	job := queue.Job{
		ID:     fmt.Sprintf("%s-%d", id, time.Now().UnixNano()),
		Key:    id,
		Source: "telegram",
		Work: func(ctx context.Context) error {
			return a.handler.Handle(ctx, in)
		},
	}
	if ok, _ := a.queue.EnqueueWithRetry(ctx, job, 5*time.Second, 100*time.Millisecond); !ok {
		log.Printf("user=%d message dropped kind=%s", in.UserID, in.Kind)
	}
}

// Run starts the workers, the catalog watcher, the HTTP server and the
// transport loop, and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx)
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			log.Printf("catalog watcher disabled: %v", err)
		}
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux}
	srvErr := make(chan error, 1)
	go func() {
		log.Printf("http listening on %s", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- a.transport.Run(ctx, a.Dispatch) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-srvErr:
	case err = <-runErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.queue.Stop(shutdownCtx)
	if cerr := a.store.Close(); cerr != nil {
		log.Printf("close ledger: %v", cerr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Handler() *bot.Handler { return a.handler }
func (a *App) Queue() *queue.Queue   { return a.queue }
func (a *App) Store() *store.Store   { return a.store }
func (a *App) Mux() *http.ServeMux   { return a.mux }
