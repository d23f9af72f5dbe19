// Package config loads service settings from defaults, an optional YAML file,
// a .env file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/recipesurvey/internal/services"
	"github.com/soaringjerry/recipesurvey/internal/utils"
)

const (
	configPathEnv = "SURVEY_CONFIG"
	// DevJWTSecret is the fallback signing key; Validate rejects it outside dev mode.
	DevJWTSecret = "recipe-survey-dev-secret"
)

type Config struct {
	DevMode  bool           `yaml:"dev_mode"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Survey   SurveyConfig   `yaml:"survey"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StaticDir       string        `yaml:"static_dir"`
	DevFrontendURL  string        `yaml:"dev_frontend_url"`
	Commit          string        `yaml:"-"`
	BuildTime       string        `yaml:"-"`
}

// DatabaseConfig selects the session store. Memory keeps sessions in process
// and is meant for local development only. LegacyDir, when set, is imported
// once into a newly created database.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	MigrationsDir string `yaml:"migrations_dir"`
	Memory        bool   `yaml:"memory"`
	LegacyDir     string `yaml:"legacy_dir"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type SurveyConfig struct {
	IdleTimeout           time.Duration              `yaml:"idle_timeout"`
	Thresholds            services.QualityThresholds `yaml:"thresholds"`
	AttentionStep         string                     `yaml:"attention_step"`
	RecipeAttentionAnswer string                     `yaml:"recipe_attention_answer"`
	PostAttentionAnswer   string                     `yaml:"post_attention_answer"`
	CompletionURL         string                     `yaml:"completion_url"`
}

type AuthConfig struct {
	JWTSecret           string        `yaml:"jwt_secret"`
	CookieName          string        `yaml:"cookie_name"`
	ParticipantTokenTTL time.Duration `yaml:"participant_token_ttl"`
	AdminUsername       string        `yaml:"admin_username"`
	AdminPasswordHash   string        `yaml:"admin_password_hash"`
	AdminTokenTTL       time.Duration `yaml:"admin_token_ttl"`
	ExportCooldown      time.Duration `yaml:"export_cooldown"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type JobsConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func Default() Config {
	sc := services.DefaultSessionConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       5,
			RateBurst:       20,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Path: "data/survey.db"},
		Catalog:  CatalogConfig{Path: "data/recipes.csv"},
		Survey: SurveyConfig{
			IdleTimeout:           sc.IdleTimeout,
			Thresholds:            sc.Thresholds,
			AttentionStep:         sc.AttentionStep.String(),
			RecipeAttentionAnswer: sc.RecipeAttentionAnswer,
			PostAttentionAnswer:   sc.PostAttentionAnswer,
			CompletionURL:         sc.CompletionURL,
		},
		Auth: AuthConfig{
			JWTSecret:           DevJWTSecret,
			CookieName:          "survey_session",
			ParticipantTokenTTL: 24 * time.Hour,
			AdminUsername:       "admin",
			AdminTokenTTL:       12 * time.Hour,
			ExportCooldown:      10 * time.Second,
		},
		Log:  LogConfig{Level: "info", Format: "text"},
		Jobs: JobsConfig{SweepInterval: 5 * time.Minute},
	}
}

// Load reads .env from the working directory (existing variables win), the
// YAML file named by SURVEY_CONFIG if set, then environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile applies the YAML file at path (if non-empty) over the defaults and
// then the environment, and validates the result.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	c.DevMode = utils.EnvBool("SURVEY_DEV_MODE", c.DevMode)
	c.Server.Addr = utils.SafeEnv("SURVEY_ADDR", c.Server.Addr)
	if v := utils.EnvList("SURVEY_ALLOWED_ORIGINS"); len(v) > 0 {
		c.Server.AllowedOrigins = v
	}
	c.Server.TrustProxy = utils.EnvBool("SURVEY_TRUST_PROXY", c.Server.TrustProxy)
	c.Server.StaticDir = utils.SafeEnv("SURVEY_STATIC_DIR", c.Server.StaticDir)
	c.Server.DevFrontendURL = utils.SafeEnv("SURVEY_DEV_FRONTEND_URL", c.Server.DevFrontendURL)
	c.Server.Commit = utils.SafeEnv("SURVEY_COMMIT", c.Server.Commit)
	c.Server.BuildTime = utils.SafeEnv("SURVEY_BUILD_TIME", c.Server.BuildTime)

	c.Database.Path = utils.SafeEnv("SURVEY_DB_PATH", c.Database.Path)
	c.Database.MigrationsDir = utils.SafeEnv("SURVEY_MIGRATIONS_DIR", c.Database.MigrationsDir)
	c.Database.Memory = utils.EnvBool("SURVEY_DB_MEMORY", c.Database.Memory)
	c.Database.LegacyDir = utils.SafeEnv("SURVEY_LEGACY_DIR", c.Database.LegacyDir)
	c.Catalog.Path = utils.SafeEnv("SURVEY_CATALOG", c.Catalog.Path)

	c.Survey.CompletionURL = utils.SafeEnv("PROLIFIC_COMPLETION_URL", c.Survey.CompletionURL)
	c.Survey.RecipeAttentionAnswer = utils.SafeEnv("SURVEY_RECIPE_ATTENTION_ANSWER", c.Survey.RecipeAttentionAnswer)
	c.Survey.PostAttentionAnswer = utils.SafeEnv("SURVEY_POST_ATTENTION_ANSWER", c.Survey.PostAttentionAnswer)

	c.Auth.JWTSecret = utils.SafeEnv("SURVEY_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AdminUsername = utils.SafeEnv("SURVEY_ADMIN_USERNAME", c.Auth.AdminUsername)
	c.Auth.AdminPasswordHash = utils.SafeEnv("SURVEY_ADMIN_PASSWORD_HASH", c.Auth.AdminPasswordHash)

	c.Log.Level = utils.SafeEnv("SURVEY_LOG_LEVEL", c.Log.Level)
	c.Log.Format = utils.SafeEnv("SURVEY_LOG_FORMAT", c.Log.Format)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SURVEY_IDLE_TIMEOUT", &c.Survey.IdleTimeout},
		{"SURVEY_TOO_FAST", &c.Survey.Thresholds.TooFast},
		{"SURVEY_TOO_SLOW", &c.Survey.Thresholds.TooSlow},
		{"SURVEY_SWEEP_INTERVAL", &c.Jobs.SweepInterval},
		{"SURVEY_EXPORT_COOLDOWN", &c.Auth.ExportCooldown},
	}
	for _, d := range durations {
		if strings.TrimSpace(os.Getenv(d.key)) == "" {
			continue
		}
		v, ok := utils.EnvDuration(d.key, *d.dst)
		if !ok {
			return fmt.Errorf("%s: invalid duration %q", d.key, os.Getenv(d.key))
		}
		*d.dst = v
	}
	return nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if !c.Database.Memory && c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required unless database.memory is set"))
	}
	if c.Catalog.Path == "" {
		errs = append(errs, errors.New("catalog.path is required"))
	}
	if c.Survey.IdleTimeout <= 0 {
		errs = append(errs, errors.New("survey.idle_timeout must be positive"))
	}
	if t := c.Survey.Thresholds; t.TooFast < 0 || t.TooSlow <= 0 || t.TooFast >= t.TooSlow {
		errs = append(errs, fmt.Errorf("survey.thresholds: too_fast (%s) must be below too_slow (%s)", t.TooFast, t.TooSlow))
	}
	if _, err := c.attentionStep(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Survey.RecipeAttentionAnswer) == "" || strings.TrimSpace(c.Survey.PostAttentionAnswer) == "" {
		errs = append(errs, errors.New("survey attention answers must not be empty"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if c.Auth.JWTSecret == DevJWTSecret && !c.DevMode {
		errs = append(errs, errors.New("auth.jwt_secret must be set outside dev mode"))
	}
	if c.Auth.ParticipantTokenTTL <= 0 || c.Auth.AdminTokenTTL <= 0 {
		errs = append(errs, errors.New("auth token TTLs must be positive"))
	}
	if c.Jobs.SweepInterval < 0 {
		errs = append(errs, errors.New("jobs.sweep_interval must not be negative"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) attentionStep() (services.Step, error) {
	step, err := services.ParseStep(c.Survey.AttentionStep)
	if err != nil {
		return 0, fmt.Errorf("survey.attention_step: %w", err)
	}
	if _, ok := step.RecipeSlot(); !ok {
		return 0, fmt.Errorf("survey.attention_step must be a recipe evaluation step, got %s", step)
	}
	return step, nil
}

// SessionConfig converts the survey section for services.SessionService.
func (c Config) SessionConfig() services.SessionConfig {
	step, err := c.attentionStep()
	if err != nil {
		step = services.DefaultSessionConfig().AttentionStep
	}
	return services.SessionConfig{
		IdleTimeout:           c.Survey.IdleTimeout,
		Thresholds:            c.Survey.Thresholds,
		AttentionStep:         step,
		RecipeAttentionAnswer: c.Survey.RecipeAttentionAnswer,
		PostAttentionAnswer:   c.Survey.PostAttentionAnswer,
		CompletionURL:         c.Survey.CompletionURL,
	}
}
