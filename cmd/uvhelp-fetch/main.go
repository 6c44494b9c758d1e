package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/uvhelp-io/uvhelp-ce/internal/config"
	"github.com/uvhelp-io/uvhelp-ce/internal/database"
	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound"
	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/connector"
	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/parser"
	"github.com/uvhelp-io/uvhelp-ce/internal/email/inbound/postmaster"
	"github.com/uvhelp-io/uvhelp-ce/internal/repository"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	configFileFlag string
	scheduleFlag   string
	onceFlag       bool
)

var rootCmd = &cobra.Command{
	Use:     "uvhelp-fetch",
	Short:   "Poll helpdesk mailboxes and convert mail into tickets",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run the mailbox fetch cycle",
	Long: `Fetch polls every enabled mailbox over IMAP or POP3, parses each
message, and creates or updates the matching ticket.

With --schedule (or fetch.schedule in config) the cycle repeats on a cron
expression; otherwise it runs once and exits.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&configFileFlag, "config", "", "Path to the YAML config file")
	fetchCmd.Flags().StringVar(&scheduleFlag, "schedule", "", "Cron expression for repeated runs")
	fetchCmd.Flags().BoolVar(&onceFlag, "once", false, "Run a single cycle even when a schedule is configured")
	rootCmd.AddCommand(fetchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load(configFileFlag)
	if err != nil {
		return err
	}

	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Name:     cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Path:     cfg.Database.Path,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Bootstrap(db); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher, err := buildDispatcher(ctx, db, cfg, logger)
	if err != nil {
		return err
	}

	schedule := scheduleFlag
	if schedule == "" {
		schedule = cfg.Fetch.Schedule
	}
	if schedule == "" || onceFlag {
		return runCycle(ctx, dispatcher, logger)
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := runCycle(ctx, dispatcher, logger); err != nil {
			logger.Printf("fetch cycle failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	logger.Printf("scheduled fetch with %q", schedule)
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

func buildDispatcher(ctx context.Context, db *sql.DB, cfg *config.Config, logger *log.Logger) (*inbound.Dispatcher, error) {
	lookups := repository.NewLookupRepository(db)
	defaults, err := lookups.EnsureTicketDefaults(ctx)
	if err != nil {
		return nil, err
	}

	users := repository.NewUserRepository(db)
	tickets := repository.NewTicketRepository(db)
	mailboxes := repository.NewMailboxRepository(db)

	processor := postmaster.NewTicketProcessor(
		parser.New(parser.WithLogger(logger)),
		users,
		tickets,
		defaults,
		postmaster.WithTicketProcessorLogger(logger),
		postmaster.WithTicketProcessorBlacklist(postmaster.NewBlacklist(cfg.Fetch.Blacklist)),
	)

	factory := connector.DefaultFactory(
		[]connector.IMAPFetcherOption{
			connector.WithIMAPLogger(logger),
			connector.WithIMAPRecentLimit(cfg.Fetch.RecentLimit),
			connector.WithIMAPDialTimeout(cfg.Fetch.DialTimeout),
		},
		[]connector.POP3FetcherOption{
			connector.WithPOP3Logger(logger),
			connector.WithPOP3RecentLimit(cfg.Fetch.RecentLimit),
			connector.WithPOP3DialTimeout(cfg.Fetch.DialTimeout),
		},
	)

	return inbound.NewDispatcher(mailboxes, factory, processor,
		inbound.WithDispatcherLogger(logger)), nil
}

func runCycle(ctx context.Context, dispatcher *inbound.Dispatcher, logger *log.Logger) error {
	start := time.Now()
	results, err := dispatcher.Run(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	logger.Printf("fetch cycle done: %d mailboxes, %d failed, took %s",
		len(results), failed, time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		var failures []string
		for _, res := range results {
			if res.Err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", res.Email, res.Err))
			}
		}
		logger.Printf("mailbox failures: %s", strings.Join(failures, "; "))
	}
	return nil
}
