package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tossmail/tossmail/config"
	"github.com/tossmail/tossmail/logger"
	"github.com/tossmail/tossmail/mailbox"
	"github.com/tossmail/tossmail/server/mailserver"
	"github.com/tossmail/tossmail/server/web"
)

func main() {
	cfg := config.NewDefaultConfig()

	// Flags override values from the config file. Their defaults come from
	// the initial cfg so -help shows the effective ones.
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	fDataDir := flag.String("datadir", cfg.General.DataDir, "Base directory for mailbox storage (overrides config)")
	fWebAddr := flag.String("webaddr", cfg.Web.Addr, "HTTP viewer listen address (overrides config)")
	fMailAddr := flag.String("mailaddr", cfg.Mailserver.Addr, "SMTP listen address (overrides config)")
	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stderr', 'stdout', 'syslog' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	if err := config.LoadConfigFromFile(*configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "WARNING: config file '%s' not found, using defaults\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "datadir":
			cfg.General.DataDir = *fDataDir
		case "webaddr":
			cfg.Web.Addr = *fWebAddr
		case "mailaddr":
			cfg.Mailserver.Addr = *fMailAddr
		case "logoutput":
			cfg.Logging.Output = *fLogOutput
		case "loglevel":
			cfg.Logging.Level = *fLogLevel
		}
	})

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	store, err := mailbox.New(cfg.General.DataDir, mailbox.Options{
		Admin:   cfg.General.Admin,
		BaseURL: cfg.General.URL,
	})
	if err != nil {
		logger.Fatal("failed to open mailbox store", "datadir", cfg.General.DataDir, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	hooks := mailserver.NewWebhookDispatcher(store, cfg.Webhook.URL)
	receiver, err := mailserver.New(&cfg, store, hooks)
	if err != nil {
		logger.Fatal("failed to create mail receiver", "error", err)
	}
	receiver.Start(ctx, errChan)

	viewer := web.New(&cfg, store)
	viewer.Start(ctx, errChan)

	logger.Info("tossmail started",
		"datadir", cfg.General.DataDir,
		"domains", cfg.General.NormalizedDomains(),
		"web", cfg.Web.Addr,
		"smtp", cfg.Mailserver.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down on signal")
	case err := <-errChan:
		logger.Error("server failed", "error", err)
		stop()
		os.Exit(1)
	}
}
