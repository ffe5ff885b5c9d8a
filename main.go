package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"etlplanner/internal/app"
	"etlplanner/internal/config"
	"etlplanner/internal/recurrence"
)

var version = "dev"

const usage = `usage: etlplanner [-config path] <command> [args]

commands:
  serve              run the scheduler, file watchers and metrics endpoint
  run <task>         run one task (ID or name) now
  mcp                serve MCP tools on stdin/stdout
  next <expr> [n]    print the next n trigger times of a recurrence expression
  check              ping every connection and validate every task
  version            print the version
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "etlplanner:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("etlplanner", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	cfgPath := fs.String("config", config.DefaultPath(), "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "next":
		return cmdNext(rest, stdout)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	log, closer, err := app.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	switch cmd {
	case "serve":
		log.Info("etlplanner starting", "version", version, "store", cfg.DatabasePath())
		return a.Serve(ctx)
	case "run":
		if len(rest) != 1 {
			return errors.New("run: expected exactly one task ID or name")
		}
		return a.RunOnce(ctx, rest[0])
	case "mcp":
		return a.ServeMCP(ctx, version)
	case "check":
		return cmdCheck(ctx, a, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdNext(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("next", flag.ContinueOnError)
	mode := fs.String("mode", recurrence.ModeMinute, "recurrence mode: minute or cron")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New(`next: expected an expression such as "*/15 * * * *" and an optional count`)
	}
	count := 1
	if fs.NArg() == 2 {
		n, err := strconv.Atoi(fs.Arg(1))
		if err != nil || n < 1 {
			return fmt.Errorf("next: bad count %q", fs.Arg(1))
		}
		count = n
	}
	calc, err := recurrence.New(*mode)
	if err != nil {
		return err
	}
	t := time.Now()
	for range count {
		if t, err = calc.Next(fs.Arg(0), t); err != nil {
			return err
		}
		fmt.Fprintln(stdout, t.Format(time.RFC3339))
	}
	return nil
}

func cmdCheck(ctx context.Context, a *app.App, stdout io.Writer) error {
	results, err := a.Check(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = "FAIL: " + r.Err.Error()
			failed++
		}
		fmt.Fprintf(stdout, "%-10s %-30s %s\n", r.Kind, r.Name, status)
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
