package config

import (
	"bytes"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "studio_authoring"
	defaultDBCharset  = "utf8mb4"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
	defaultRedisDB    = 0

	// defaultYouTubeURLBase is the page transcripts are discovered from;
	// the video id is appended verbatim.
	defaultYouTubeURLBase = "https://www.youtube.com/watch?v="
	// defaultCaptionTracksRegex extracts the captionTracks JSON array out
	// of the watch page. The page layout shifts regularly, so this stays
	// configurable.
	defaultCaptionTracksRegex = `"captionTracks":\[(?P<caption_tracks>[^\]]+)`
	defaultYouTubeTimeout     = 15 * time.Second
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Env      string                `yaml:"env"` // "development" | "production"
	Database DatabaseRuntimeConfig `yaml:"database"`
	RedisURL string                `yaml:"redis_url"`
	Redis    RedisRuntimeConfig    `yaml:"redis"`
	Storage  StorageConfig         `yaml:"storage"`
	YouTube  YouTubeConfig         `yaml:"youtube"`
	Policy   PolicyConfig          `yaml:"policy"`
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool { return strings.EqualFold(c.Env, "development") }

type DatabaseRuntimeConfig struct {
	DSN      string            `yaml:"dsn"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Name     string            `yaml:"name"`
	Charset  string            `yaml:"charset"`
	Params   map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// StorageConfig selects the binary blob store backend.
type StorageConfig struct {
	// Backend is "database" or "s3".
	Backend string    `yaml:"backend"`
	S3      S3Options `yaml:"s3"`
}

// S3Options configures the S3 content store backend.
type S3Options struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	CustomDomain    string `yaml:"custom_domain"`
	PathStyleAccess bool   `yaml:"path_style_access"`
}

// YouTubeConfig configures third-party transcript discovery and download.
type YouTubeConfig struct {
	URLBase            string        `yaml:"url_base"`
	CaptionTracksRegex string        `yaml:"caption_tracks_regex"`
	Timeout            time.Duration `yaml:"timeout"`
}

// PolicyConfig lifts host-level feature toggles into an explicit value so
// nothing in the core reads process-wide state.
type PolicyConfig struct {
	// FallbackToEnglish allows transcript resolution to fall back to
	// English when the requested language is missing.
	FallbackToEnglish bool `yaml:"fallback_to_english"`
	// EnableProctoredExams gates the proctoring fields in outline info.
	EnableProctoredExams bool `yaml:"enable_proctored_exams"`
	// EnableCourseHighlights gates highlight messaging on chapters.
	EnableCourseHighlights bool `yaml:"enable_course_highlights"`
}

// Load reads the YAML config at path, applies defaults, then env
// overrides.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := defaultAppConfig()
	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	} else {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = cfg.Database.DSNValue()
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = cfg.Redis.URLValue()
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return nil, fmt.Errorf("invalid database.port %d in %q, expected 1-65535", cfg.Database.Port, path)
	}
	if cfg.Redis.DB < 0 {
		return nil, fmt.Errorf("invalid redis.db %d in %q, expected >= 0", cfg.Redis.DB, path)
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Env: defaultEnv,
		Database: DatabaseRuntimeConfig{
			Host:     defaultDBHost,
			Port:     defaultDBPort,
			User:     defaultDBUser,
			Password: defaultDBPassword,
			Name:     defaultDBName,
			Charset:  defaultDBCharset,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		Storage: StorageConfig{Backend: "database"},
		YouTube: YouTubeConfig{
			URLBase:            defaultYouTubeURLBase,
			CaptionTracksRegex: defaultCaptionTracksRegex,
			Timeout:            defaultYouTubeTimeout,
		},
		Policy: PolicyConfig{
			FallbackToEnglish:    true,
			EnableProctoredExams: true,
		},
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("STUDIO_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("STUDIO_DB_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("STUDIO_REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STUDIO_S3_BUCKET")); v != "" {
		cfg.Storage.Backend = "s3"
		cfg.Storage.S3.Bucket = v
	}
}

// DSNValue assembles a MySQL DSN from the individual fields unless an
// explicit DSN was supplied.
func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultDBHost
	}
	port := c.Port
	if port == 0 {
		port = defaultDBPort
	}
	user := strings.TrimSpace(c.User)
	if user == "" {
		user = defaultDBUser
	}
	password := strings.TrimSpace(c.Password)
	if password == "" {
		password = defaultDBPassword
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = defaultDBName
	}
	charset := strings.TrimSpace(c.Charset)
	if charset == "" {
		charset = defaultDBCharset
	}

	params := neturl.Values{}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			params.Set(k, v)
		}
	}
	params.Set("charset", charset)
	params.Set("parseTime", "True")
	params.Set("loc", "Local")

	return fmt.Sprintf("%s:%s@tcp(%s)/%s?%s",
		user, password, net.JoinHostPort(host, strconv.Itoa(port)), name, params.Encode())
}

// URLValue assembles a redis URL from the individual fields unless an
// explicit URL was supplied.
func (c RedisRuntimeConfig) URLValue() string {
	if v := strings.TrimSpace(c.URL); v != "" {
		return v
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultRedisHost
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}

	u := neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(c.DB),
	}
	if c.Username != "" || c.Password != "" {
		u.User = neturl.UserPassword(c.Username, c.Password)
	}
	return u.String()
}
