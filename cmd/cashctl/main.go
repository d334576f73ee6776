// Command cashctl runs administrative cashbox operations against the configured database
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	appcashbox "github.com/delivery/backend/internal/application/cashbox"
	"github.com/delivery/backend/internal/infrastructure/config"
	"github.com/delivery/backend/internal/infrastructure/logger"
	"github.com/delivery/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      "warn",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
		Service:    "cashctl",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, gormlogger.Warn)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := newServices(persistence.NewGormUnitOfWork(db),
		appcashbox.WithLogger(log),
		appcashbox.WithDefaultCreatedBy("cashctl"),
	)
	if err := execute(ctx, svc, os.Args[1:], os.Stdout); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, usage.Error())
			printUsage()
			os.Exit(2)
		}
		log.Error("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Cashbox administration tool

Usage:
  cashctl <command> [flags]

Commands:
  balance                              Show the cashbox balance
  reconcile [-repair]                  Compare the balance with the ledger; -repair overwrites drift
  set-rate -rate N [-at T] [-by NAME]  Append an LBP per USD rate effective at T (RFC 3339, default now)
  set-initial -usd X -lbp Y [-by NAME] Set the opening balance of an empty ledger
  actor-balance -type T -id ID [-at T] Compute a driver, client or third party balance
  recalculate -type T -id ID           Recompute and store an actor balance snapshot

Environment Variables:
  DELIVERY_DATABASE_HOST, DELIVERY_DATABASE_PORT, DELIVERY_DATABASE_USER,
  DELIVERY_DATABASE_PASSWORD, DELIVERY_DATABASE_DBNAME, DELIVERY_DATABASE_SSLMODE`)
}
