// Package settings loads the server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// PUZZLEBOT_* environment variables. The result is validated before use.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the YAML file checked when no path is given
const DefaultFile = "puzzlebot.yaml"

// Settings is the full server configuration
type Settings struct {
	Server  Server  `yaml:"server"`
	Game    Game    `yaml:"game"`
	Storage Storage `yaml:"storage"`
	Auth    Auth    `yaml:"auth"`
	Logging Logging `yaml:"logging"`
	Reports Reports `yaml:"reports"`
	Ngrok   Ngrok   `yaml:"ngrok"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Game struct {
	CatalogDir    string        `yaml:"catalog_dir"`
	StepDelay     time.Duration `yaml:"step_delay"`
	SessionMaxAge time.Duration `yaml:"session_max_age"`
}

type Storage struct {
	SessionsDir  string `yaml:"sessions_dir"`
	DatabasePath string `yaml:"database_path"`
	ProgressLog  string `yaml:"progress_log"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Reports struct {
	// CacheSize is the number of kid reports held in memory
	CacheSize int64         `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type Ngrok struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"auth_token"`
	Domain    string `yaml:"domain"`
}

// Addr returns the host:port the HTTP server listens on
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Server.Host, s.Server.Port)
}

// Defaults returns the built-in configuration
func Defaults() Settings {
	return Settings{
		Server: Server{Host: "", Port: 8080},
		Game: Game{
			CatalogDir:    "configs",
			StepDelay:     400 * time.Millisecond,
			SessionMaxAge: 24 * time.Hour,
		},
		Storage: Storage{
			SessionsDir:  "sessions",
			DatabasePath: "data/puzzlebot.db",
			ProgressLog:  "data/game_progress.log",
		},
		Auth:    Auth{TokenTTL: 14 * 24 * time.Hour},
		Logging: Logging{Level: "info", Format: "console"},
		Reports: Reports{CacheSize: 1024, CacheTTL: 5 * time.Minute},
	}
}

// Load reads DefaultFile with the usual layering
func Load() (*Settings, error) {
	return LoadFrom(DefaultFile)
}

// LoadFrom returns settings layered as defaults < YAML at path < env.
// The YAML file is optional.
func LoadFrom(path string) (*Settings, error) {
	s := Defaults()

	if err := loadYAML(&s, path); err != nil {
		return nil, fmt.Errorf("settings yaml: %w", err)
	}

	loadEnv(&s)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings validate: %w", err)
	}
	return &s, nil
}

func loadYAML(s *Settings, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays non-empty environment variables
func loadEnv(s *Settings) {
	setString(&s.Server.Host, "PUZZLEBOT_HOST")
	setInt(&s.Server.Port, "PUZZLEBOT_PORT")
	setString(&s.Game.CatalogDir, "PUZZLEBOT_CATALOG_DIR")
	setDuration(&s.Game.StepDelay, "PUZZLEBOT_STEP_DELAY")
	setDuration(&s.Game.SessionMaxAge, "PUZZLEBOT_SESSION_MAX_AGE")
	setString(&s.Storage.SessionsDir, "PUZZLEBOT_SESSIONS_DIR")
	setString(&s.Storage.DatabasePath, "PUZZLEBOT_DATABASE_PATH")
	setString(&s.Storage.ProgressLog, "PUZZLEBOT_PROGRESS_LOG")
	setString(&s.Auth.JWTSecret, "PUZZLEBOT_JWT_SECRET")
	setDuration(&s.Auth.TokenTTL, "PUZZLEBOT_TOKEN_TTL")
	setString(&s.Logging.Level, "PUZZLEBOT_LOG_LEVEL")
	setString(&s.Logging.Format, "PUZZLEBOT_LOG_FORMAT")
	setInt64(&s.Reports.CacheSize, "PUZZLEBOT_REPORT_CACHE_SIZE")
	setDuration(&s.Reports.CacheTTL, "PUZZLEBOT_REPORT_CACHE_TTL")
	setBool(&s.Ngrok.Enabled, "PUZZLEBOT_NGROK")
	setString(&s.Ngrok.AuthToken, "NGROK_AUTHTOKEN")
	setString(&s.Ngrok.Domain, "PUZZLEBOT_NGROK_DOMAIN")
}

// Validate checks that the settings can run a server
func (s *Settings) Validate() error {
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Server.Port)
	}
	if s.Game.CatalogDir == "" {
		return errors.New("game.catalog_dir is required")
	}
	if s.Game.StepDelay < 0 {
		return errors.New("game.step_delay must be >= 0")
	}
	if s.Storage.SessionsDir == "" {
		return errors.New("storage.sessions_dir is required")
	}
	if s.Storage.DatabasePath == "" {
		return errors.New("storage.database_path is required")
	}
	if s.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be > 0")
	}
	if s.Reports.CacheSize < 1 {
		return errors.New("reports.cache_size must be >= 1")
	}
	switch s.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", s.Logging.Format)
	}
	if s.Ngrok.Enabled && s.Ngrok.AuthToken == "" {
		return errors.New("ngrok.auth_token is required when ngrok is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
