package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/miazigoo/RepireCRM/cmd/repaircrm/cli"
	"github.com/miazigoo/RepireCRM/internal/app"
	"github.com/miazigoo/RepireCRM/internal/auth"
	"github.com/miazigoo/RepireCRM/internal/platform/db"
)

const usage = `usage: repaircrm [command]

commands:
  serve                         run the HTTP API (default)
  migrate                       apply the bundled schema
  jobs trigger <task> [shop_id] enqueue inventory:reorder_scan, inventory:verify_ledger or maintenance:idempotency_cleanup
  jobs stats                    print queue depth
  hash-password                 read a password from stdin and print its bcrypt hash`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Default().Error("repaircrm", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "hash-password":
		return hashPassword()
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil
	case "jobs":
		return jobsCommand(ctx, cfg, args)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	c := cli.NewJobsCLI(cfg.RedisAddr)
	defer c.Close()
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: task name required")
		}
		var shopID int64
		if len(args) > 2 {
			id, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("jobs trigger: invalid shop id %q", args[2])
			}
			shopID = id
		}
		info, err := c.Trigger(ctx, args[1], shopID)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := c.InspectQueues()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
}

func hashPassword() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
