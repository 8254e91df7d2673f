package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/nwpingest/internal/api"
	"github.com/lox/nwpingest/internal/bias"
	"github.com/lox/nwpingest/internal/events"
	"github.com/lox/nwpingest/internal/forecast"
	"github.com/lox/nwpingest/internal/grib"
	"github.com/lox/nwpingest/internal/ingest"
	"github.com/lox/nwpingest/internal/notify"
	"github.com/lox/nwpingest/internal/nwp"
	"github.com/lox/nwpingest/internal/store"
)

// exitSoftware is EX_SOFTWARE from sysexits.h.
const exitSoftware = 70

// ErrCompletedWithExceptions marks a pass that finished but had failures.
var ErrCompletedWithExceptions = errors.New("completed with exceptions")

type Globals struct {
	DB            string   `help:"Path to the SQLite database." default:"data/nwpingest.db" env:"NWP_DB"`
	LockDir       string   `help:"Directory for per-model lock files." default:"data" env:"NWP_LOCK_DIR"`
	StationsFile  string   `help:"TOML file listing stations, replacing the built-in list." env:"NWP_STATIONS_FILE"`
	NtfyTopic     string   `help:"ntfy topic URL for failure notifications." env:"NWP_NTFY_TOPIC"`
	KafkaBrokers  []string `help:"Kafka brokers for run-completed events." env:"NWP_KAFKA_BROKERS" sep:","`
	KafkaTopic    string   `help:"Kafka topic for run-completed events." default:"nwp.model-runs" env:"NWP_KAFKA_TOPIC"`
	ECCCBaseURL   string   `help:"Base URL of the ECCC datamart." env:"NWP_ECCC_BASE_URL"`
	NOMADSBaseURL string   `help:"Base URL of the NOMADS filter service." env:"NWP_NOMADS_BASE_URL"`
	LearnDays     int      `help:"Days of history used to train bias regressions." default:"19" env:"NWP_LEARN_DAYS"`
	RetentionDays int      `help:"Days of predictions to keep." default:"21" env:"NWP_RETENTION_DAYS"`
	MetricsAddr   string   `help:"Listen address for /metrics and /healthz in watch mode." env:"NWP_METRICS_ADDR"`
}

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Load environment variables from this file.'"`
	Globals

	Run       RunCmd       `cmd:"" help:"Ingest and process one model, then exit."`
	Watch     WatchCmd     `cmd:"" help:"Ingest one model on an interval until interrupted."`
	Retention RetentionCmd `cmd:"" help:"Delete predictions older than the retention window."`
}

type RunCmd struct {
	Model nwp.Kind `arg:"" help:"GDPS, RDPS, HRDPS, GFS or NAM."`
}

type WatchCmd struct {
	Model    nwp.Kind      `arg:"" help:"GDPS, RDPS, HRDPS, GFS or NAM."`
	Interval time.Duration `help:"Time between passes." default:"1h"`
}

type RetentionCmd struct{}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("nwpingest"),
		kong.Description("Ingest numerical weather prediction model runs for weather stations."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := kctx.Run(&cli.Globals)
	cancel()
	if err == nil {
		return
	}
	if !errors.Is(err, ErrCompletedWithExceptions) {
		log.Printf("error: %v", err)
	}
	os.Exit(exitSoftware)
}

// app holds the long-lived dependencies shared by the commands.
type app struct {
	globals   *Globals
	db        *sql.DB
	store     *store.Store
	stations  int
	notifier  notify.Service
	publisher events.Publisher
	clock     clockwork.Clock
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	if dir := filepath.Dir(g.DB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := openDB(g.DB)
	if err != nil {
		return nil, err
	}

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	stations := defaultStations
	if g.StationsFile != "" {
		if stations, err = loadStations(g.StationsFile); err != nil {
			db.Close()
			return nil, err
		}
	}
	for _, s := range stations {
		if err := st.UpsertStation(ctx, s); err != nil {
			db.Close()
			return nil, fmt.Errorf("upsert station %d: %w", s.Code, err)
		}
	}

	return &app{
		globals:   g,
		db:        db,
		store:     st,
		stations:  len(stations),
		notifier:  notify.NewService(g.NtfyTopic),
		publisher: events.NewPublisher(g.KafkaBrokers, g.KafkaTopic),
		clock:     clockwork.NewRealClock(),
	}, nil
}

// busyTimeout lets concurrent model processes wait on each other's writes.
const busyTimeout = 5000

// openDB opens the sqlite file with WAL and a busy timeout on every pooled
// connection. A connection that reports different settings is logged.
func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		log.Printf("warning: PRAGMA busy_timeout: %v", err)
	} else if timeout != busyTimeout {
		log.Printf("warning: busy_timeout is %d, want %d", timeout, busyTimeout)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		log.Printf("warning: PRAGMA journal_mode: %v", err)
	} else if !strings.EqualFold(mode, "wal") {
		log.Printf("warning: journal_mode is %s, want wal", mode)
	}
	return db, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		log.Printf("close publisher: %v", err)
	}
	a.db.Close()
}

// lock takes the per-model process lock. ok is false when another process
// already holds it.
func (a *app) lock(kind nwp.Kind) (unlock func(), ok bool, err error) {
	if err := os.MkdirAll(a.globals.LockDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(a.globals.LockDir, fmt.Sprintf("nwpingest-%s.lock", kind)))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, false, nil
	}
	return func() { fl.Unlock() }, true, nil
}

func (a *app) orchestrator(ctx context.Context, kind nwp.Kind) (*ingest.Orchestrator, error) {
	stations, err := a.store.ActiveStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("active stations: %w", err)
	}
	builder := nwp.NewBuilder(nwp.Options{
		ECCCBaseURL:   a.globals.ECCCBaseURL,
		NOMADSBaseURL: a.globals.NOMADSBaseURL,
	})
	ingestor := ingest.NewIngestor(ingest.NewSourceFetcher(), grib.GribDecoder{}, a.store, stations)
	return ingest.NewOrchestrator(kind, builder, ingestor, a.store, a.publisher, a.clock), nil
}

func (a *app) processor(kind nwp.Kind) *forecast.Processor {
	window := time.Duration(a.globals.LearnDays) * 24 * time.Hour
	return forecast.NewProcessor(kind, a.store, bias.NewTrainer(a.store, window))
}

func (a *app) retention() *forecast.Retention {
	window := time.Duration(a.globals.RetentionDays) * 24 * time.Hour
	return forecast.NewRetention(a.store, a.clock, window)
}

// fail reports an unexpected error for a model and passes it through.
func (a *app) fail(ctx context.Context, kind nwp.Kind, err error) error {
	return notifyFailure(ctx, a.notifier, kind, err)
}

func notifyFailure(ctx context.Context, notifier notify.Service, kind nwp.Kind, err error) error {
	if nerr := notifier.NotifyFailure(context.WithoutCancel(ctx), kind.String(), err); nerr != nil {
		log.Printf("notify: %v", nerr)
	}
	return err
}

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return notifyFailure(ctx, notify.NewService(g.NtfyTopic), c.Model, err)
	}
	defer a.Close()

	unlock, ok, err := a.lock(c.Model)
	if err != nil {
		return a.fail(ctx, c.Model, err)
	}
	if !ok {
		log.Printf("%s: another process is already ingesting, exiting", c.Model)
		return nil
	}
	defer unlock()

	o, err := a.orchestrator(ctx, c.Model)
	if err != nil {
		return a.fail(ctx, c.Model, err)
	}
	log.Printf("%s: ingesting for %d stations", c.Model, a.stations)
	sum, err := o.Run(ctx)
	if err != nil {
		return a.fail(ctx, c.Model, err)
	}
	log.Printf("%s: files downloaded %d, processed %d, exceptions %d, runs completed %d",
		c.Model, sum.FilesDownloaded, sum.FilesProcessed, sum.Exceptions, sum.RunsCompleted)

	res, err := a.processor(c.Model).Process(ctx)
	if err != nil {
		return a.fail(ctx, c.Model, err)
	}
	if res.Runs > 0 {
		log.Printf("%s: processed %d runs into station predictions", c.Model, res.Runs)
	}

	if exceptions := sum.Exceptions + res.Exceptions; exceptions > 0 {
		if err := a.notifier.NotifyExceptions(ctx, c.Model.String(), exceptions); err != nil {
			log.Printf("notify: %v", err)
		}
		log.Printf("%s: %d exceptions", c.Model, exceptions)
		return fmt.Errorf("%s: %d exceptions: %w", c.Model, exceptions, ErrCompletedWithExceptions)
	}
	return nil
}

func (c *WatchCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return notifyFailure(ctx, notify.NewService(g.NtfyTopic), c.Model, err)
	}
	defer a.Close()

	unlock, ok, err := a.lock(c.Model)
	if err != nil {
		return a.fail(ctx, c.Model, err)
	}
	if !ok {
		log.Printf("%s: another process is already ingesting, exiting", c.Model)
		return nil
	}
	defer unlock()

	o, err := a.orchestrator(ctx, c.Model)
	if err != nil {
		return a.fail(ctx, c.Model, err)
	}

	if g.MetricsAddr != "" {
		server := api.NewServer(a.store, g.MetricsAddr, c.Model)
		go func() {
			log.Printf("serving metrics on %s", g.MetricsAddr)
			if err := server.Run(ctx); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	log.Printf("%s: watching every %s for %d stations", c.Model, c.Interval, a.stations)
	ingest.NewScheduler(o, a.processor(c.Model), a.retention(), a.notifier, a.clock, c.Interval).Run(ctx)
	return nil
}

func (c *RetentionCmd) Run(ctx context.Context, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.retention().Apply(ctx)
}
