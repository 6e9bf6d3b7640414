package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/m1guelpf/dollar-auction/core"
)

const (
	defaultPort        = 5000
	defaultTransport   = "vsock"
	defaultBidRate     = 5.0
	defaultBidBurst    = 10
	defaultReadTimeout = 30 * time.Second
)

// Config holds the daemon runtime settings read from the environment.
type Config struct {
	MaxWorkers     int
	Port           uint32
	Transport      string // vsock or tcp
	TCPAddr        string
	AdminAddr      string
	JournalPath    string
	ParamsPath     string
	SigningKeyPath string
	RefundPolicy   string
	Operator       string
	LogLevel       string
	BidRate        float64
	BidBurst       int
	ReadTimeout    time.Duration
}

// LoadConfig reads the AUCTIOND_* environment variables.
func LoadConfig() (Config, error) {
	maxWorkers, err := getRequiredEnvInt("AUCTIOND_MAX_WORKERS")
	if err != nil {
		return Config{}, fmt.Errorf("failed to get max workers config: %w", err)
	}
	if maxWorkers <= 0 {
		return Config{}, fmt.Errorf("AUCTIOND_MAX_WORKERS must be positive, got %d", maxWorkers)
	}

	port, err := getEnvInt("AUCTIOND_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	burst, err := getEnvInt("AUCTIOND_BID_BURST", defaultBidBurst)
	if err != nil {
		return Config{}, err
	}
	bidRate, err := getEnvFloat("AUCTIOND_BID_RATE", defaultBidRate)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		MaxWorkers:     maxWorkers,
		Port:           uint32(port),
		Transport:      getEnv("AUCTIOND_TRANSPORT", defaultTransport),
		TCPAddr:        getEnv("AUCTIOND_TCP_ADDR", fmt.Sprintf("127.0.0.1:%d", port)),
		AdminAddr:      os.Getenv("AUCTIOND_ADMIN_ADDR"),
		JournalPath:    os.Getenv("AUCTIOND_JOURNAL_PATH"),
		ParamsPath:     os.Getenv("AUCTIOND_CONFIG"),
		SigningKeyPath: os.Getenv("AUCTIOND_SIGNING_KEY"),
		RefundPolicy:   os.Getenv("AUCTIOND_REFUND_POLICY"),
		Operator:       os.Getenv("AUCTIOND_OPERATOR"),
		LogLevel:       getEnv("AUCTIOND_LOG_LEVEL", "info"),
		BidRate:        bidRate,
		BidBurst:       burst,
		ReadTimeout:    defaultReadTimeout,
	}

	if cfg.Transport != "vsock" && cfg.Transport != "tcp" {
		return Config{}, fmt.Errorf("invalid AUCTIOND_TRANSPORT %q (want vsock or tcp)", cfg.Transport)
	}
	return cfg, nil
}

// paramsFile is the YAML shape of auction parameters. Amounts are decimal
// strings and durations use Go duration syntax.
type paramsFile struct {
	Prize           string `yaml:"prize"`
	MinIncrement    string `yaml:"min_increment"`
	AuctionDuration string `yaml:"auction_duration"`
	AntiSnipeWindow string `yaml:"anti_snipe_window"`
	Operator        string `yaml:"operator"`
	RefundPolicy    string `yaml:"refund_policy"`
}

// LoadParamsFile reads auction parameters from path. Fields left out keep
// their defaults, and a missing file yields the defaults. A non-empty
// operator or refund policy from cfg overrides the file.
func LoadParamsFile(path string, cfg Config) (core.Params, error) {
	var pf paramsFile
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("params file not found, using defaults", "path", path)
		case err != nil:
			return core.Params{}, fmt.Errorf("read params file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &pf); err != nil {
				return core.Params{}, fmt.Errorf("parse params file %s: %w", path, err)
			}
		}
	}

	if cfg.Operator != "" {
		pf.Operator = cfg.Operator
	}
	if cfg.RefundPolicy != "" {
		pf.RefundPolicy = cfg.RefundPolicy
	}

	params := core.DefaultParams(core.Identity(pf.Operator))
	var err error
	if pf.Prize != "" {
		if params.Prize, err = decimal.NewFromString(pf.Prize); err != nil {
			return core.Params{}, fmt.Errorf("prize: %w", err)
		}
	}
	if pf.MinIncrement != "" {
		if params.MinIncrement, err = decimal.NewFromString(pf.MinIncrement); err != nil {
			return core.Params{}, fmt.Errorf("min_increment: %w", err)
		}
	}
	if pf.AuctionDuration != "" {
		if params.AuctionDuration, err = time.ParseDuration(pf.AuctionDuration); err != nil {
			return core.Params{}, fmt.Errorf("auction_duration: %w", err)
		}
	}
	if pf.AntiSnipeWindow != "" {
		if params.AntiSnipeWindow, err = time.ParseDuration(pf.AntiSnipeWindow); err != nil {
			return core.Params{}, fmt.Errorf("anti_snipe_window: %w", err)
		}
	}
	if params.RefundPolicy, err = core.ParseRefundPolicy(pf.RefundPolicy); err != nil {
		return core.Params{}, err
	}

	if err := params.Validate(); err != nil {
		return core.Params{}, err
	}
	return params, nil
}

// Helper function for required environment variable parsing
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	slog.Info("using environment setting", "key", key, "value", intValue)
	return intValue, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}
	return intValue, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a number)", key, value)
	}
	return f, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
