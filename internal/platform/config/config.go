package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 20 * time.Second

	defaultPaymentProvider = ProviderMock
	defaultSessionTTL      = 24 * time.Hour
	defaultSuccessURL      = "https://app.pressdeck.example/checkout/success"
	defaultCancelURL       = "https://app.pressdeck.example/checkout/cancel"

	defaultVATRateBps     = 2500
	defaultContentFee     = 2500
	defaultRecoveryTTL    = 7 * 24 * time.Hour
	defaultSweepBatchSize = 100

	defaultHMACSignatureHeader = "X-Signature"
	defaultHMACTimestampHeader = "X-Signature-Timestamp"
	defaultHMACClockSkew       = 5 * time.Minute
)

// Payment provider identifiers accepted by Payments.Provider.
const (
	ProviderStripe = "stripe"
	ProviderMock   = "mock"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Payments  PaymentsConfig
	Pricing   PricingConfig
	Recovery  RecoveryConfig
	PubSub    PubSubConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PaymentsConfig selects and configures the payment gateway. Provider is
// fixed at startup; there is no per-request switching.
type PaymentsConfig struct {
	Provider            string
	StripeAPIKey        string
	StripeWebhookSecret string
	MockWebhookSecret   string
	SessionTTL          time.Duration
	SuccessURL          string
	CancelURL           string
}

// PricingConfig holds the tax rate and fixed surcharges in minor units.
type PricingConfig struct {
	VATRateBps            int64
	ProfessionalContentFee int64
}

// RecoveryConfig controls abandoned-cart reminder behaviour.
type RecoveryConfig struct {
	TTL            time.Duration
	SweepBatchSize int
	BaseURL        string
	TokenSecret    string
}

// PubSubConfig lists the topics reminder, notification, and customer sync
// jobs publish to.
type PubSubConfig struct {
	ProjectID         string
	ReminderTopic     string
	NotificationTopic string
	CustomerSyncTopic string
}

// SecurityConfig groups the HMAC contract guarding internal endpoints.
type SecurityConfig struct {
	InternalHMACSecret string
	SignatureHeader    string
	TimestampHeader    string
	ClockSkew          time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Payments: PaymentsConfig{
			Provider:            strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_PROVIDER", defaultPaymentProvider)),
			StripeAPIKey:        stringWithDefault(lookup, "API_PAYMENTS_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PAYMENTS_STRIPE_WEBHOOK_SECRET", ""),
			MockWebhookSecret:   stringWithDefault(lookup, "API_PAYMENTS_MOCK_WEBHOOK_SECRET", "mock-webhook-secret"),
			SessionTTL:          durationWithDefault(lookup, "API_PAYMENTS_SESSION_TTL", defaultSessionTTL),
			SuccessURL:          stringWithDefault(lookup, "API_PAYMENTS_SUCCESS_URL", defaultSuccessURL),
			CancelURL:           stringWithDefault(lookup, "API_PAYMENTS_CANCEL_URL", defaultCancelURL),
		},
		Pricing: PricingConfig{
			VATRateBps:             int64WithDefault(lookup, "API_PRICING_VAT_RATE_BPS", defaultVATRateBps),
			ProfessionalContentFee: int64WithDefault(lookup, "API_PRICING_PROFESSIONAL_CONTENT_FEE", defaultContentFee),
		},
		Recovery: RecoveryConfig{
			TTL:            durationWithDefault(lookup, "API_RECOVERY_TTL", defaultRecoveryTTL),
			SweepBatchSize: intWithDefault(lookup, "API_RECOVERY_SWEEP_BATCH", defaultSweepBatchSize),
			BaseURL:        stringWithDefault(lookup, "API_RECOVERY_BASE_URL", ""),
			TokenSecret:    stringWithDefault(lookup, "API_RECOVERY_TOKEN_SECRET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:         stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			ReminderTopic:     stringWithDefault(lookup, "API_PUBSUB_REMINDER_TOPIC", "cart-recovery-reminders"),
			NotificationTopic: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATION_TOPIC", "checkout-notifications"),
			CustomerSyncTopic: stringWithDefault(lookup, "API_PUBSUB_CUSTOMER_SYNC_TOPIC", "customer-profile-sync"),
		},
		Security: SecurityConfig{
			InternalHMACSecret: stringWithDefault(lookup, "API_SECURITY_INTERNAL_HMAC_SECRET", ""),
			SignatureHeader:    stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
			TimestampHeader:    stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
			ClockSkew:          durationWithDefault(lookup, "API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
		},
	}

	// PubSub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []*string{
		&cfg.Payments.StripeAPIKey,
		&cfg.Payments.StripeWebhookSecret,
		&cfg.Recovery.TokenSecret,
		&cfg.Security.InternalHMACSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.Payments.Provider {
	case ProviderStripe:
		if cfg.Payments.StripeAPIKey == "" {
			missing = append(missing, "Payments.StripeAPIKey")
		}
		if cfg.Payments.StripeWebhookSecret == "" {
			missing = append(missing, "Payments.StripeWebhookSecret")
		}
	case ProviderMock:
		if cfg.Payments.MockWebhookSecret == "" {
			missing = append(missing, "Payments.MockWebhookSecret")
		}
	default:
		missing = append(missing, "Payments.Provider")
	}
	if cfg.Payments.SessionTTL <= 0 {
		missing = append(missing, "Payments.SessionTTL")
	}
	if cfg.Pricing.VATRateBps < 0 {
		missing = append(missing, "Pricing.VATRateBps")
	}
	if cfg.Pricing.ProfessionalContentFee < 0 {
		missing = append(missing, "Pricing.ProfessionalContentFee")
	}
	if cfg.Recovery.TTL <= 0 {
		missing = append(missing, "Recovery.TTL")
	}
	if cfg.Recovery.SweepBatchSize <= 0 {
		missing = append(missing, "Recovery.SweepBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
