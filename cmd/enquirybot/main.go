package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/CampusKit/enquirybot/internal/api"
	"github.com/CampusKit/enquirybot/internal/dedup"
	"github.com/CampusKit/enquirybot/internal/flow"
	"github.com/CampusKit/enquirybot/internal/genai"
	"github.com/CampusKit/enquirybot/internal/lockfile"
	"github.com/CampusKit/enquirybot/internal/mcb"
	"github.com/CampusKit/enquirybot/internal/models"
	"github.com/CampusKit/enquirybot/internal/notify"
	"github.com/CampusKit/enquirybot/internal/scheduler"
	"github.com/CampusKit/enquirybot/internal/settings"
	"github.com/CampusKit/enquirybot/internal/store"
	"github.com/CampusKit/enquirybot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for EnquiryBot state data
	DefaultStateDir = "/var/lib/enquirybot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "enquirybot.db"
	// DefaultSweepSchedule runs the session sweep every ten minutes
	DefaultSweepSchedule = "*/10 * * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One instance per state directory: the SQLite database and WhatsApp
	// session store cannot take concurrent writers.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	cfg := settings.Env{}
	engine, syncer := buildEngine(st, cfg, flags)

	guard, err := dedup.NewGuard()
	if err != nil {
		slog.Error("Failed to initialize dedup guard", "error", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweepExpr := os.Getenv("SWEEP_SCHEDULE")
	if sweepExpr == "" {
		sweepExpr = DefaultSweepSchedule
	}
	if err := sched.AddJob(sweepExpr, func() {
		if deleted, err := engine.Sessions().SweepExpired(context.Background()); err != nil {
			slog.Warn("Session sweep failed", "error", err)
		} else if deleted > 0 {
			slog.Debug("Session sweep evicted sessions", "deleted", deleted)
		}
	}); err != nil {
		slog.Error("Invalid sweep schedule", "error", err, "schedule", sweepExpr)
		os.Exit(1)
	}

	apiOpts := []api.Option{api.WithSyncer(syncer)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(engine, guard, st, apiOpts...)

	slog.Info("Bootstrapping EnquiryBot", "api_addr", *flags.apiAddr, "dsn_set", *flags.dbDSN != "")
	if err := server.Run(ctx); err != nil {
		slog.Error("EnquiryBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("EnquiryBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("ENQUIRYBOT_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ENQUIRYBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ENQUIRYBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for EnquiryBot data (overrides $ENQUIRYBOT_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}
	flag.Parse()

	// Follow the state directory when the DSN was derived from the default.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	return os.MkdirAll(stateDir, 0755)
}

// buildStore selects the storage backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Warn("No database DSN provided, using in-memory store; data will not survive restarts")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildEngine wires the flow engine with its optional collaborators: the
// GenAI extraction fallback, the notification dispatcher and the CRM syncer.
func buildEngine(st store.Store, cfg settings.Provider, flags Flags) (*flow.Engine, *mcb.Syncer) {
	sessionOpts := []flow.SessionManagerOption{
		flow.WithSessionTTL(settings.Duration(cfg, settings.KeySessionTTL, flow.DefaultSessionTTL)),
		flow.WithSessionCap(settings.Int(cfg, settings.KeySessionCap, flow.DefaultSessionCap)),
	}
	sessions := flow.NewSessionManager(st, sessionOpts...)
	persister := flow.NewPersister(st)

	var engineOpts []flow.EngineOption
	if *flags.openaiKey != "" {
		ai, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("GenAI fallback disabled", "error", err)
		} else {
			engineOpts = append(engineOpts, flow.WithFallbackExtractor(ai))
			slog.Info("GenAI extraction fallback enabled")
		}
	}

	mcbClient := mcb.NewClient(
		mcb.WithAPIURL(settings.String(cfg, settings.KeyMCBAPIURL, "")),
		mcb.WithAPIKey(settings.String(cfg, settings.KeyMCBAPIKey, "")),
		mcb.WithTimeout(settings.Duration(cfg, settings.KeyMCBTimeout, mcb.DefaultTimeout)),
	)
	syncer := mcb.NewSyncer(st, mcbClient, cfg)

	dispatcher := buildDispatcher(cfg, flags)

	engineOpts = append(engineOpts, flow.WithCompletionListener(func(enquiry models.Enquiry) {
		// Both run after the confirmation reply is already on its way out.
		dispatcher.NotifyEnquiry(enquiry)
		syncer.Sync(context.Background(), enquiry)
	}))

	return flow.NewEngine(sessions, persister, engineOpts...), syncer
}

// buildDispatcher assembles the notification routes that are configured.
func buildDispatcher(cfg settings.Provider, flags Flags) *notify.Dispatcher {
	d := notify.NewDispatcher()

	if recipient := settings.String(cfg, settings.KeyNotifyEmail, ""); recipient != "" {
		email, err := notify.NewEmailSender()
		if err != nil {
			slog.Warn("Email notifications disabled", "error", err)
		} else {
			d.AddRoute(notify.Route{Channel: notify.ChannelEmail, Recipient: recipient, Sender: email})
			slog.Info("Email notifications enabled", "recipient", recipient)
		}
	}

	waRecipient := os.Getenv("NOTIFY_WHATSAPP_RECIPIENT")
	smsRecipient := os.Getenv("NOTIFY_SMS_RECIPIENT")
	if os.Getenv("TWILIO_ACCOUNT_SID") != "" && (waRecipient != "" || smsRecipient != "") {
		twilioSender, err := notify.NewTwilioSender()
		if err != nil {
			slog.Warn("Twilio notifications disabled", "error", err)
		} else {
			if waRecipient != "" {
				d.AddRoute(notify.Route{Channel: notify.ChannelWhatsApp, Recipient: waRecipient, Sender: twilioSender})
			}
			if smsRecipient != "" {
				d.AddRoute(notify.Route{Channel: notify.ChannelSMS, Recipient: smsRecipient, Sender: twilioSender})
			}
			slog.Info("Twilio notifications enabled", "whatsapp", waRecipient != "", "sms", smsRecipient != "")
		}
	} else if waRecipient != "" {
		// No Twilio credentials: deliver WhatsApp through a directly linked
		// device instead.
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db"))}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			slog.Warn("WhatsApp notifications disabled", "error", err)
		} else {
			d.AddRoute(notify.Route{Channel: notify.ChannelWhatsApp, Recipient: waRecipient, Sender: waClient})
			slog.Info("WhatsApp notifications enabled via linked device", "recipient", waRecipient)
		}
	}
	return d
}
