package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config holds all configuration for the hibernate daemon.
type Config struct {
	LogLevel string

	// Device identity
	DeviceID string // used as the escrow/ledger/notify correlation key
	FleetID  string // used for the fleetgate maintenance-window key

	// Block devices and filesystem
	SnapshotDevicePath string // /dev/snapshot
	StatefulPath       string // mount point holding the backing files; its free space drives the low-disk cleanup
	CookieDevicePath   string // block device (or file) the resume cookie lives on

	// Preallocation / image write tuning
	PageSize    int
	BufferPages int
	DirectIO    bool // false for filesystems (e.g. tmpfs in tests) that reject O_DIRECT

	// Key wrapping
	KeyWrapHex string // hex-encoded 32-byte AES-256 wrapping key

	// Metrics HTTP exporter (optional)
	MetricsAddr string

	// Postgres-backed fleet attempt ledger (optional)
	DatabaseURL string

	// Redis-backed fleet maintenance gate (optional, fail-open if unset)
	RedisURL string

	// NATS fleet event notification (optional, best-effort if unset)
	NATSURL string

	// S3-compatible metadata escrow (optional)
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool

	// AWS Secrets Manager — if set, secrets are fetched at startup using IAM
	// credentials. The secret should be a JSON object with keys matching env
	// var names (e.g. HIBERMAN_KEY_WRAP_HEX). Env vars take precedence over
	// secret values (for local overrides).
	SecretsARN string
}

// Load reads configuration from environment variables with sensible
// defaults. If HIBERMAN_SECRETS_ARN is set, secrets are fetched from AWS
// Secrets Manager first, then environment variables are applied on top
// (env vars take precedence).
func Load() (*Config, error) {
	if arn := os.Getenv("HIBERMAN_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		LogLevel: envOrDefault("HIBERMAN_LOG_LEVEL", "info"),

		DeviceID: envOrDefault("HIBERMAN_DEVICE_ID", "unknown-device"),
		FleetID:  envOrDefault("HIBERMAN_FLEET_ID", "default"),

		SnapshotDevicePath: envOrDefault("HIBERMAN_SNAPSHOT_DEVICE", "/dev/snapshot"),
		StatefulPath:       envOrDefault("HIBERMAN_STATEFUL_PATH", "/mnt/stateful_partition"),
		CookieDevicePath:   os.Getenv("HIBERMAN_COOKIE_DEVICE"),

		PageSize:    envOrDefaultInt("HIBERMAN_PAGE_SIZE", 4096),
		BufferPages: envOrDefaultInt("HIBERMAN_BUFFER_PAGES", 32),
		DirectIO:    envOrDefault("HIBERMAN_DIRECT_IO", "true") == "true",

		KeyWrapHex: os.Getenv("HIBERMAN_KEY_WRAP_HEX"),

		MetricsAddr: os.Getenv("HIBERMAN_METRICS_ADDR"),

		DatabaseURL: os.Getenv("HIBERMAN_DATABASE_URL"),
		RedisURL:    os.Getenv("HIBERMAN_REDIS_URL"),
		NATSURL:     os.Getenv("HIBERMAN_NATS_URL"),

		S3Endpoint:        os.Getenv("HIBERMAN_S3_ENDPOINT"),
		S3Bucket:          os.Getenv("HIBERMAN_S3_BUCKET"),
		S3Region:          os.Getenv("HIBERMAN_S3_REGION"),
		S3AccessKeyID:     os.Getenv("HIBERMAN_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("HIBERMAN_S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:  os.Getenv("HIBERMAN_S3_FORCE_PATH_STYLE") == "true",

		SecretsARN: os.Getenv("HIBERMAN_SECRETS_ARN"),
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain (IAM instance
// profile on a fleet-managed device, or ~/.aws/credentials locally).
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Extract region from ARN: arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}

	log.Printf("config: loaded %d secrets from Secrets Manager (%d keys in secret, env overrides take precedence)", applied, len(secrets))
	return nil
}
