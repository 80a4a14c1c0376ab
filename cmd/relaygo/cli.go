package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/prilive-com/relaygo"
	"github.com/prilive-com/relaygo/api"
	"github.com/prilive-com/relaygo/dispatch"
	"github.com/prilive-com/relaygo/internal/credfile"
	"github.com/prilive-com/relaygo/internal/syncutil"
	"github.com/prilive-com/relaygo/sender"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI defines the command-line interface parsed by kong.
type CLI struct {
	EnvFile  string     `name:"env-file" help:"Path to .env file (existing variables win)" default:".env"`
	LogLevel string     `name:"log-level" help:"Log level" enum:"debug,info,warn,error" default:"info" env:"RELAYGO_LOG_LEVEL"`
	Send     SendCmd    `cmd:"" help:"Relay stdin lines to a channel, one message per line"`
	Version  VersionCmd `cmd:"" help:"Show version information"`
}

type (
	SendCmd struct {
		Channel          string   `help:"Destination channel ID" env:"RELAYGO_CHANNEL_ID"`
		Token            []string `help:"Credential secret, repeatable" env:"RELAYGO_TOKENS" sep:","`
		Credentials      string   `help:"YAML credentials file" type:"path"`
		Watch            bool     `help:"Reload the credentials file when it changes"`
		RotateEvery      int      `name:"rotate-every" help:"Sends between credential rotations" default:"10"`
		Retries          int      `help:"Retries on transient errors (-1 keeps MAX_RETRIES)" default:"-1"`
		RetryRateLimited bool     `name:"retry-rate-limited" help:"Retry 429 responses after Retry-After"`
		BaseURL          string   `name:"base-url" help:"API base URL"`
	}
	VersionCmd struct{}
)

// run is the testable entry point. It returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// .env must be loaded before kong resolves env: tags
	if path := envFileFromArgs(args); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "warning: failed to load env file %s: %v\n", path, err)
		}
	}

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("relaygo"),
		kong.Description("Relay text messages to a chat channel with credential rotation."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	switch kctx.Command() {
	case "version":
		fmt.Fprintf(stdout, "relaygo %s\n", version)
		return 0
	case "send":
		logger := newLogger(stderr, cli.LogLevel)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return cli.Send.run(ctx, stdin, stdout, logger)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", kctx.Command())
		return 2
	}
}

// envFileFromArgs finds --env-file before parsing, defaulting to ".env".
func envFileFromArgs(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--env-file" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--env-file="):
			return strings.TrimPrefix(arg, "--env-file=")
		}
	}
	return ".env"
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// senderConfig layers flags over the environment.
func (c *SendCmd) senderConfig() (sender.Config, error) {
	cfg, err := sender.LoadConfig()
	if err != nil {
		return sender.Config{}, err
	}
	if c.Retries >= 0 {
		cfg.MaxRetries = c.Retries
	}
	if c.RetryRateLimited {
		cfg.RetryRateLimited = true
	}
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	return *cfg, cfg.Validate()
}

// credentials merges --token values with the credentials file.
func (c *SendCmd) credentials() (channel string, creds []api.Credential, err error) {
	channel = c.Channel
	for _, tok := range c.Token {
		if strings.TrimSpace(tok) != "" {
			creds = append(creds, api.NewCredential(tok, ""))
		}
	}
	if c.Credentials != "" {
		f, err := credfile.Load(c.Credentials)
		if err != nil {
			return "", nil, err
		}
		if channel == "" {
			channel = f.Channel
		}
		creds = append(creds, f.APICredentials()...)
	}
	return channel, creds, nil
}

type summary struct {
	delivered atomic.Int64
	failed    atomic.Int64
}

func (c *SendCmd) run(ctx context.Context, stdin io.Reader, stdout io.Writer, logger *slog.Logger) int {
	cfg, err := c.senderConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	channel, creds, err := c.credentials()
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		return 1
	}
	if channel == "" {
		logger.Warn("no channel configured; messages will be skipped")
	}
	if len(creds) == 0 {
		logger.Warn("no credentials configured; messages will be skipped")
	}

	var (
		sum   summary
		outMu sync.Mutex
	)
	relay, err := relaygo.New(
		relaygo.WithLogger(logger),
		relaygo.WithChannel(channel),
		relaygo.WithCredentials(creds...),
		relaygo.WithSenderConfig(cfg),
		relaygo.WithRotateEvery(c.RotateEvery),
		relaygo.WithOnResult(func(r dispatch.Result) {
			outMu.Lock()
			defer outMu.Unlock()
			if r.Success {
				sum.delivered.Add(1)
				fmt.Fprintf(stdout, "ok\t%s\t%s\n", r.Credential, r.Request.Content)
				return
			}
			sum.failed.Add(1)
			fmt.Fprintf(stdout, "FAIL\t%s\t%s\t%s\n", r.Credential, r.Request.Content, r.ErrorDetail())
		}),
	)
	if err != nil {
		logger.Error("failed to create relay", "error", err)
		return 1
	}
	defer relay.Close()

	var wg sync.WaitGroup
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer func() {
		cancelWatch()
		wg.Wait()
	}()

	if c.Watch && c.Credentials != "" {
		w := credfile.NewWatcher(c.Credentials, func(f *credfile.File) {
			added, removed := credfile.Reconcile(relay.Rotator(), f.APICredentials())
			logger.Info("credentials reconciled", "added", added, "removed", removed)
		}, credfile.WithLogger(logger))
		syncutil.Go(&wg, func() {
			if err := w.Run(watchCtx); err != nil {
				logger.Error("credentials watcher failed", "error", err)
			}
		})
	}

	if err := relay.Start(ctx); err != nil {
		logger.Error("failed to start relay", "error", err)
		return 1
	}

	readDone := make(chan error, 1)
	go func() {
		readDone <- enqueueLines(stdin, relay)
	}()

	select {
	case <-ctx.Done():
		logger.Info("interrupted", "pending", relay.Stats().Pending)
	case err := <-readDone:
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
		}
		if err := relay.WaitIdle(ctx); err != nil {
			logger.Warn("stopped before the queue drained", "error", err)
		}
	}

	relay.Stop()

	stats := relay.Stats()
	fmt.Fprintf(stdout, "delivered=%d failed=%d sent=%d pending=%d\n",
		sum.delivered.Load(), sum.failed.Load(), stats.Sent, stats.Pending)

	if sum.failed.Load() > 0 || stats.Pending > 0 {
		return 1
	}
	return 0
}

// enqueueLines queues every non-blank line from r.
func enqueueLines(r io.Reader, relay *relaygo.Relay) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		relay.Enqueue(line)
	}
	return scanner.Err()
}
