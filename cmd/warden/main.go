// Command warden serves bounded shell-command execution over MCP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/deixis/warden"
	"github.com/deixis/warden/internal/config"
	"github.com/deixis/warden/internal/engine"
	wardenmcp "github.com/deixis/warden/internal/mcp"
	"github.com/deixis/warden/internal/policy"
	"github.com/deixis/warden/internal/shellenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	app := kingpin.New("warden", "Bounded shell-command execution over MCP.")
	debug := app.Flag("debug", "Enable debug logging.").Bool()
	jsonLog := app.Flag("log-json", "Log in JSON format.").Bool()
	dir := app.Flag("dir", "Base directory commands are confined to.").Default(".").String()

	serveCmd := app.Command("serve", "Start the MCP server.")
	httpAddr := serveCmd.Flag("http", "Serve MCP over streamable HTTP on this address (e.g. :9090) instead of stdio.").String()

	execCmd := app.Command("exec", "Run one command through the engine and print the result.")
	execCwd := execCmd.Flag("cwd", "Working directory, resolved inside the base directory.").String()
	execTimeout := execCmd.Flag("timeout", "Wall-clock limit (e.g. 30s).").Duration()
	execArgv := execCmd.Arg("command", "Command and arguments.").Required().Strings()

	allowedCmd := app.Command("allowed", "Print the allow-listed commands.")
	versionCmd := app.Command("version", "Print the version.")

	cmdName := kingpin.MustParse(app.Parse(os.Args[1:]))

	log := newLogger(*debug, *jsonLog)

	var err error
	switch cmdName {
	case serveCmd.FullCommand():
		err = serve(log, *dir, *httpAddr)
	case execCmd.FullCommand():
		err = execOne(log, *dir, *execArgv, *execCwd, *execTimeout)
	case allowedCmd.FullCommand():
		err = printAllowed(*dir)
	case versionCmd.FullCommand():
		fmt.Println(warden.Version)
	}

	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// newLogger logs to stderr so stdout stays clean for the stdio MCP
// transport and exec output.
func newLogger(debug, jsonFormat bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	if jsonFormat {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// newEngine loads the config, captures the baseline environment, and
// builds the engine. captureEnv skips the login shell step for fast
// administrative commands.
func newEngine(ctx context.Context, log logrus.FieldLogger, dir string, captureEnv bool) (*engine.Engine, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	baseline, err := shellenv.System{}.Environ(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading process environment: %w", err)
	}

	if captureEnv && cfg.CaptureLoginShell() {
		captured, err := (shellenv.LoginShell{}).Environ(ctx)
		if err != nil {
			log.WithError(err).Warn("login shell capture failed, using process environment")
		} else {
			for k, v := range captured {
				baseline[k] = v
			}
		}
	}

	var providers []shellenv.Provider
	if cfg.EnvFile != "" {
		providers = append(providers, shellenv.File{Path: cfg.EnvFile})
	}
	if len(cfg.Env) > 0 {
		providers = append(providers, shellenv.Static(cfg.Env))
	}
	providers = append([]shellenv.Provider{shellenv.Static(baseline)}, providers...)

	baseline, err = shellenv.Merge(ctx, providers...)
	if err != nil {
		return nil, fmt.Errorf("composing baseline environment: %w", err)
	}

	pol, err := policy.New(policy.Config{
		BaseDir:          cfg.BaseDir,
		Allow:            cfg.Allow,
		BaselineEnv:      baseline,
		Timeout:          cfg.Timeout(),
		MaxTimeout:       cfg.MaxTimeout(),
		MaxOutput:        cfg.MaxOutputBytes(),
		StreamTimeout:    cfg.StreamTimeout(),
		StreamBufferSize: cfg.StreamBufferBytes(),
	})
	if err != nil {
		return nil, err
	}

	eng := engine.New(pol, log)
	eng.GracePeriod = cfg.GracePeriod()
	return eng, nil
}

func serve(log *logrus.Logger, dir, httpAddr string) error {
	ctx := context.Background()

	eng, err := newEngine(ctx, log, dir, true)
	if err != nil {
		return err
	}
	server := wardenmcp.NewServer(eng, log)

	var g run.Group

	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		g.Add(
			func() error {
				<-signalCtx.Done()
				log.Debug("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	{
		serveCtx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				if httpAddr != "" {
					return serveHTTP(serveCtx, log, server, httpAddr)
				}
				return server.Run(serveCtx, &mcpsdk.StdioTransport{})
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func serveHTTP(ctx context.Context, log *logrus.Logger, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.WithField("addr", addr).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func execOne(log *logrus.Logger, dir string, argv []string, cwd string, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, log, dir, true)
	if err != nil {
		return err
	}

	result, err := eng.Run(ctx, engine.Request{
		Command: argv[0],
		Args:    argv[1:],
		Dir:     cwd,
		Timeout: timeout,
	})
	if err != nil {
		return err
	}

	fmt.Print(result.Stdout)
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	if !result.Success {
		if result.Err != "" {
			fmt.Fprintln(os.Stderr, result.Err)
		}
		code := result.ExitCode
		if code <= 0 {
			code = 1
		}
		os.Exit(code)
	}
	return nil
}

func printAllowed(dir string) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	pol, err := policy.New(policy.Config{BaseDir: cfg.BaseDir, Allow: cfg.Allow})
	if err != nil {
		return err
	}
	for _, name := range pol.Allowed() {
		fmt.Println(name)
	}
	return nil
}
