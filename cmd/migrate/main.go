package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/parkez/parkez-backend/internal/auth"
	"github.com/parkez/parkez-backend/internal/users"
	"github.com/parkez/parkez-backend/pkg/auth/session"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/migrate"
	"github.com/parkez/parkez-backend/pkg/redis"
)

const usage = "up | down | status | to <version> | create <name> | validate | seed-admin"

type options struct {
	dir        string
	adminUser  string
	adminEmail string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (default: the embedded set; create writes to "+migrate.DefaultDir+")")
	flag.StringVar(&opts.adminUser, "admin-username", "admin", "username for seed-admin")
	flag.StringVar(&opts.adminEmail, "admin-email", "admin@parkez.local", "email for seed-admin")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [flags] %s\n", usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command (%s)", usage)
	}
	cmd, rest := args[0], args[1:]

	// Offline commands work on files only.
	switch cmd {
	case "create":
		if len(rest) != 1 {
			return errors.New("create takes exactly one name")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, rest[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.Validate(migrate.Source(opts.dir)); err != nil {
			return err
		}
		fmt.Println("migrations are valid")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer client.Close()

	if cmd == "seed-admin" {
		return seedAdmin(ctx, cfg, logg, client, opts)
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, migrate.Source(opts.dir))
	if err != nil {
		return err
	}

	var steps []migrate.Step
	switch cmd {
	case "up":
		steps, err = runner.Up(ctx)
	case "down":
		steps, err = runner.Down(ctx)
	case "to":
		if len(rest) != 1 {
			return errors.New("to takes a target version (YYYYMMDDHHMMSS)")
		}
		target, perr := strconv.ParseInt(rest[0], 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid version %q: %w", rest[0], perr)
		}
		steps, err = runner.To(ctx, target)
	case "status":
		return printStatus(ctx, runner)
	default:
		return fmt.Errorf("unknown command %q (%s)", cmd, usage)
	}

	for _, s := range steps {
		fmt.Printf("%-4s %d %s (%s)\n", s.Direction, s.Version, s.Path, s.Took.Round(time.Millisecond))
	}
	if err == nil && len(steps) == 0 {
		fmt.Println("nothing to do")
	}
	return err
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	states, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
	for _, s := range states {
		applied := "pending"
		if s.Applied {
			applied = s.AppliedAt.UTC().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, applied, s.Path)
	}
	return w.Flush()
}

func seedAdmin(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client, opts options) error {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	sessions, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	svc, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(client.DB()),
		SessionManager: sessions,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	password, err := svc.EnsureAdmin(ctx, opts.adminUser, opts.adminEmail)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if password == "" {
		fmt.Println("admin already exists:", opts.adminUser)
		return nil
	}
	fmt.Printf("created admin %s with password %s\n", opts.adminUser, password)
	return nil
}
