package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/clinic"
	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/store"
	"github.com/BTreeMap/TriagePipe/internal/util"
	"github.com/BTreeMap/TriagePipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TriagePipe state data
	DefaultStateDir = "/var/lib/triagepipe"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "triagepipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
	// DefaultOutboxPollInterval is how often queued text messages are sent
	DefaultOutboxPollInterval = 2 * time.Second
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(config); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping TriagePipe", "api_addr", config.APIAddr, "state_dir", config.StateDir, "whatsapp", config.WhatsAppEnabled, "twilio", config.TwilioAccountSID != "")
	if err := run(ctx, config, flags); err != nil {
		slog.Error("TriagePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TriagePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel           slog.Level
	StateDir           string
	DatabaseURL        string
	WhatsAppDBDSN      string
	WhatsAppEnabled    bool
	OpenAIKey          string
	OpenAIModel        string
	OpenAITTSModel     string
	GenAIDebug         bool
	APIAddr            string
	RedisURL           string
	MongoURI           string
	MongoDatabase      string
	ClinicsFile        string
	DefaultCountry     string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFrom         string
	TwilioWebhookURL   string
	ShortlistSize      int
	SessionIdleTimeout time.Duration
}

// Flags holds command line values that have no environment counterpart
type Flags struct {
	QROutput string
	Numeric  bool
}

// initializeLogger sets up structured logging on stdout
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseLogLevel maps TRIAGEPIPE_LOG_LEVEL to a slog level, defaulting to info.
func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		LogLevel:           parseLogLevel(os.Getenv("TRIAGEPIPE_LOG_LEVEL")),
		StateDir:           os.Getenv("TRIAGEPIPE_STATE_DIR"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppEnabled:    util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		OpenAITTSModel:     os.Getenv("OPENAI_TTS_MODEL"),
		GenAIDebug:         util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:            os.Getenv("API_ADDR"),
		RedisURL:           os.Getenv("REDIS_URL"),
		MongoURI:           os.Getenv("MONGODB_URI"),
		MongoDatabase:      os.Getenv("MONGODB_DATABASE"),
		ClinicsFile:        os.Getenv("CLINICS_FILE"),
		DefaultCountry:     os.Getenv("DEFAULT_COUNTRY"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:         os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		ShortlistSize:      util.ParseIntEnv("CLINIC_SHORTLIST_SIZE", clinic.DefaultShortlistSize),
		SessionIdleTimeout: util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", session.DefaultIdleTimeout),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	applyStateDirDefaults(&config, "")

	slog.Debug("environment variables loaded",
		"TRIAGEPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_ENABLED", config.WhatsAppEnabled,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"MONGODB_URI_SET", config.MongoURI != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"API_ADDR", config.APIAddr)
	return config
}

// applyStateDirDefaults points unset database DSNs at files in the state
// directory. DSNs that still point at previousStateDir are moved along.
func applyStateDirDefaults(config *Config, previousStateDir string) {
	if config.DatabaseURL == "" || (previousStateDir != "" && config.DatabaseURL == appDBPath(previousStateDir)) {
		config.DatabaseURL = appDBPath(config.StateDir)
	}
	if config.WhatsAppDBDSN == "" || (previousStateDir != "" && config.WhatsAppDBDSN == whatsAppDBDSN(previousStateDir)) {
		config.WhatsAppDBDSN = whatsAppDBDSN(config.StateDir)
	}
}

func appDBPath(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func whatsAppDBDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments, overriding the
// environment configuration in place.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) (Flags, error) {
	var flags Flags
	previousStateDir := config.StateDir

	fs.StringVar(&flags.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&flags.Numeric, "numeric-code", false, "use a numeric WhatsApp login code instead of a QR code")
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for TriagePipe data (overrides $TRIAGEPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "application database DSN (overrides $DATABASE_URL)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.ClinicsFile, "clinics-file", config.ClinicsFile, "JSON clinic directory used without MongoDB (overrides $CLINICS_FILE)")
	fs.BoolVar(&config.WhatsAppEnabled, "whatsapp", config.WhatsAppEnabled, "run the WhatsApp text channel (overrides $WHATSAPP_ENABLED)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if config.StateDir != previousStateDir {
		applyStateDirDefaults(config, previousStateDir)
		slog.Debug("Updated database DSNs for state directory", "state_dir", config.StateDir)
	}
	return flags, nil
}

// ensureDirectoriesExist creates the state directory and the directory of any
// file-based database.
func ensureDirectoriesExist(config Config) error {
	dirs := []string{config.StateDir}
	if config.DatabaseURL != "" && store.DetectDSNType(config.DatabaseURL) != "postgres" {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(config.DatabaseURL, "file:")))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(config Config, flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.QROutput))
	}
	if flags.Numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if config.WhatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDBDSN))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithAPIKey(config.OpenAIKey),
		genai.WithStateDir(config.StateDir),
		genai.WithDebugMode(config.GenAIDebug),
	}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	if config.OpenAITTSModel != "" {
		genaiOpts = append(genaiOpts, genai.WithTTSModel(config.OpenAITTSModel))
	}
	return genaiOpts
}
