package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/config"
	"github.com/nebutra/billing-service/pkg/db"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/migrate"
	"github.com/nebutra/billing-service/pkg/redis"
)

type options struct {
	dir     string
	name    string
	version string
}

// session is what a command gets to work with. db and runner are nil for offline commands.
type session struct {
	cfg    *config.Config
	logg   *logger.Logger
	opts   options
	db     *db.Client
	runner *migrate.Runner
}

type command struct {
	online bool
	run    func(ctx context.Context, s *session) error
}

var commands = map[string]command{
	"create":   {run: createMigration},
	"validate": {run: validateMigrations},
	"up":       {online: true, run: applying(func(ctx context.Context, r *migrate.Runner, _ options) error { return r.Up(ctx) })},
	"down":     {online: true, run: applying(func(ctx context.Context, r *migrate.Runner, _ options) error { return r.Down(ctx) })},
	"version":  {online: true, run: applying(migrateTo)},
	"status":   {online: true, run: showStatus},
}

func main() {
	_ = godotenv.Load()

	var opts options
	cmd := flag.String("cmd", "up", "migration command: "+commandNames())
	flag.StringVar(&opts.dir, "dir", "", "read migrations from this directory instead of the embedded set")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	chosen, ok := commands[*cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd value %q (want %s)\n", *cmd, commandNames())
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd, "dir": opts.dir})

	s := &session{cfg: cfg, logg: logg, opts: opts}
	if chosen.online {
		closeDB, err := s.connect(ctx)
		if err != nil {
			logg.Error(ctx, "migrate setup failed", err)
			os.Exit(1)
		}
		defer closeDB()
	}

	if err := chosen.run(ctx, s); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func (s *session) connect(ctx context.Context) (func(), error) {
	client, err := db.New(ctx, s.cfg.DB, s.logg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	source, err := migrate.Source(s.opts.dir)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, source, s.logg)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migration runner: %w", err)
	}
	s.db, s.runner = client, runner
	return func() { _ = client.Close() }, nil
}

func createMigration(_ context.Context, s *session) error {
	if s.opts.name == "" {
		return errors.New("missing -name")
	}
	target := s.opts.dir
	if target == "" {
		target = migrate.SourceDir
	}
	path, err := migrate.CreateSQLMigration(target, s.opts.name, time.Now())
	if err != nil {
		return err
	}
	fmt.Println("created migration:", path)
	return nil
}

func validateMigrations(_ context.Context, s *session) error {
	source, err := migrate.Source(s.opts.dir)
	if err != nil {
		return err
	}
	if err := migrate.Validate(source); err != nil {
		return err
	}
	fmt.Println("migration validation passed")
	return nil
}

func migrateTo(ctx context.Context, r *migrate.Runner, opts options) error {
	if opts.version == "" {
		return errors.New("missing -version")
	}
	return r.To(ctx, opts.version)
}

// applying wraps a schema change so resolved plan configs cached in Redis are dropped afterwards.
func applying(change func(context.Context, *migrate.Runner, options) error) func(context.Context, *session) error {
	return func(ctx context.Context, s *session) error {
		if err := change(ctx, s.runner, s.opts); err != nil {
			return err
		}
		flushConfigCache(ctx, s)
		return nil
	}
}

func showStatus(ctx context.Context, s *session) error {
	rows, err := s.runner.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, row := range rows {
		state, applied := "pending", "-"
		if row.Applied {
			state, applied = "applied", row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", row.Version, state, applied, row.Path)
	}
	return w.Flush()
}

func flushConfigCache(ctx context.Context, s *session) {
	if s.cfg.Redis.URL == "" && s.cfg.Redis.Address == "" {
		return
	}
	warn := func(msg string, err error) {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
	}
	redisClient, err := redis.New(ctx, s.cfg.Redis, s.logg)
	if err != nil {
		warn("skipping config cache flush", err)
		return
	}
	defer redisClient.Close()

	resolver, err := plans.NewResolver(plans.ResolverParams{
		Store:  plans.NewRepository(s.db.DB()),
		Cache:  redisClient,
		Logger: s.logg,
		Prefix: s.cfg.Redis.KeyPrefix,
	})
	if err != nil {
		warn("skipping config cache flush", err)
		return
	}
	if err := resolver.InvalidateAll(ctx); err != nil {
		warn("config cache flush failed", err)
		return
	}
	s.logg.Info(ctx, "config cache flushed")
}
