package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bulsupms/pmsinbox/internal/auth"
	"github.com/bulsupms/pmsinbox/internal/config"
	"github.com/bulsupms/pmsinbox/internal/storage/postgres"
	"github.com/bulsupms/pmsinbox/internal/storage/sqlite"
	"github.com/bulsupms/pmsinbox/internal/users"
)

const usage = `usage: pmsinbox [-migrate] [-v] <command> [args]

commands:
  serve                 run the inbox and the local console (default)
  watch [-q term]       follow the inbox in the terminal; type to reply
  send <id> <text...>   send a message to a conversation
  users <id>...         print user labels
  hash <password>       print a bcrypt hash for CONSOLE_PASSWORD_HASH
`

// labelStore is the persistence behind the user label cache.
type labelStore interface {
	users.Store
	Migrate(ctx context.Context) error
	Close() error
}

func openStore(cfg config.Config) (labelStore, error) {
	if cfg.PostgresDsn != "" {
		return postgres.New(cfg.PostgresDsn)
	}
	return sqlite.New(cfg.SQLITEDsn)
}

func main() {
	migrate := flag.Bool("migrate", false, "run label store migrations and exit")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	//config part
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error Loading Env file: %v", err)
	}
	cfg := config.MustLoad()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	//label store
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Error opening label store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		log.Fatalf("Migration failed %v", err)
	}
	if *migrate {
		slog.Info("Migration Completed")
		return
	}

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "hash" {
		if len(args) != 1 {
			log.Fatal("usage: pmsinbox hash <password>")
		}
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			log.Fatalf("hash failed: %v", err)
		}
		fmt.Println(hash)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, store, logger)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}

	switch cmd {
	case "serve":
		err = app.serve(ctx)
	case "watch":
		err = app.watch(ctx, args)
	case "send":
		err = app.send(ctx, args)
	case "users":
		err = app.users(ctx, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "command", cmd, "err", err)
		stop()
		os.Exit(1)
	}
}
