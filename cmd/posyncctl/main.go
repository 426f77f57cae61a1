package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/posync/cmd/posyncctl/cli"
	"github.com/odyssey-erp/posync/internal/app"
	"github.com/odyssey-erp/posync/internal/platform/db"
	"github.com/odyssey-erp/posync/internal/platform/secrets"
	"github.com/odyssey-erp/posync/internal/rbac"
)

const usage = `usage: posyncctl <command> [flags]

commands:
  export <po>                 queue a background export of a purchase order
  queue [-scheduled N]        show default queue counters
  seal-secret <secret>        print the sealed form of an API secret
  set-endpoint -url U -key K -secret S [-actor A]
  grant-role <user> <role>
  revoke-role <user> <role>
  roles [-json] <user>
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "export":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "export: purchase order name required")
			return 2
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		defer jobsCLI.Close()
		info, err := jobsCLI.EnqueueExport(ctx, rest[0])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "export: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "queued %s as task %s\n", rest[0], info.ID)
		return 0

	case "queue":
		fs := flag.NewFlagSet("queue", flag.ContinueOnError)
		fs.SetOutput(stderr)
		scheduled := fs.Int("scheduled", 0, "also list up to N scheduled tasks")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
		if *scheduled > 0 {
			tasks, err := jobsCLI.ListScheduled(ctx, *scheduled)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
				return 1
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
		}
		return 0

	case "seal-secret":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "seal-secret: secret required")
			return 2
		}
		box, err := secrets.NewBox(cfg.SyncSecretKey)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		return cli.NewEndpointCLI(nil, box).SealCommand(rest[0], stdout, stderr)

	case "set-endpoint":
		fs := flag.NewFlagSet("set-endpoint", flag.ContinueOnError)
		fs.SetOutput(stderr)
		opts := cli.EndpointOptions{Stdout: stdout, Stderr: stderr}
		fs.StringVar(&opts.BaseURL, "url", "", "remote site base URL")
		fs.StringVar(&opts.APIKey, "key", "", "API key")
		fs.StringVar(&opts.APISecret, "secret", "", "API secret, stored sealed")
		fs.StringVar(&opts.Actor, "actor", os.Getenv("USER"), "name recorded in the audit log")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		box, err := secrets.NewBox(cfg.SyncSecretKey)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		pool, err := connect(ctx, cfg)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		defer pool.Close()
		return cli.NewEndpointCLI(cli.PGEndpointWriter{Pool: pool}, box).SetCommand(ctx, opts)

	case "grant-role", "revoke-role":
		if len(rest) != 2 {
			_, _ = fmt.Fprintf(stderr, "%s: user and role required\n", cmd)
			return 2
		}
		pool, err := connect(ctx, cfg)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		defer pool.Close()
		roles := cli.NewRolesCLI(rbac.NewService(pool))
		if cmd == "grant-role" {
			return roles.Grant(ctx, rest[0], rest[1], stdout, stderr)
		}
		return roles.Revoke(ctx, rest[0], rest[1], stdout, stderr)

	case "roles":
		fs := flag.NewFlagSet("roles", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOutput := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			_, _ = fmt.Fprintln(stderr, "roles: user required")
			return 2
		}
		pool, err := connect(ctx, cfg)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		defer pool.Close()
		return cli.NewRolesCLI(rbac.NewService(pool)).List(ctx, fs.Arg(0), *jsonOutput, stdout, stderr)

	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func connect(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
}
