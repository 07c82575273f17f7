package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// Backend
	APIURL           string `validate:"required,url"`
	Token            string
	Email            string `validate:"omitempty,email"`
	Password         string
	UserID           string
	UserEmail        string `validate:"omitempty,email"`
	PusherURL        string `validate:"omitempty,url"`
	BroadcastAuthURL string `validate:"omitempty,url"`
	HTTPTimeout      time.Duration

	// Inbox
	PollInterval   time.Duration `validate:"min=100ms"`
	SearchDebounce time.Duration
	AutoOpenWindow time.Duration
	AutoOpen       bool
	EnrichLimit    int `validate:"min=1,max=50"`

	// Console
	Addr                string
	ConsoleJWTSecret    string
	ConsoleJWTTTLMin    int `validate:"min=1"`
	ConsolePasswordHash string

	// Label store
	SQLITEDsn   string
	PostgresDsn string

	SendGridAPIKey string
	SendGridFrom   string `validate:"omitempty,email"`
	NotifyEmail    string `validate:"omitempty,email"`
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func getms(key string, def int) time.Duration {
	return time.Duration(getint(key, def)) * time.Millisecond
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func MustLoad() Config {
	cfg := Config{
		APIURL:           getenv("PMS_API_URL", "http://localhost:8000"),
		Token:            getenv("PMS_TOKEN", ""),
		Email:            getenv("PMS_EMAIL", ""),
		Password:         getenv("PMS_PASSWORD", ""),
		UserID:           getenv("PMS_USER_ID", ""),
		UserEmail:        getenv("PMS_USER_EMAIL", ""),
		PusherURL:        getenv("PUSHER_URL", ""),
		BroadcastAuthURL: getenv("BROADCAST_AUTH_URL", ""),
		HTTPTimeout:      getms("HTTP_TIMEOUT_MS", 10000),

		PollInterval:   getms("POLL_INTERVAL_MS", 3000),
		SearchDebounce: getms("SEARCH_DEBOUNCE_MS", 300),
		AutoOpenWindow: getms("AUTO_OPEN_WINDOW_MS", 3000),
		AutoOpen:       getbool("AUTO_OPEN", true),
		EnrichLimit:    getint("ENRICH_LIMIT", 10),

		Addr:                getenv("HTTP_ADDR", ":8090"),
		ConsoleJWTSecret:    getenv("CONSOLE_JWT_SECRET", ""),
		ConsoleJWTTTLMin:    getint("CONSOLE_JWT_TTL_MIN", 720),
		ConsolePasswordHash: getenv("CONSOLE_PASSWORD_HASH", ""),

		SQLITEDsn:   getenv("SQLITE_DSN", "file:pmsinbox.db?_pragma=foreign_keys(ON)"),
		PostgresDsn: getenv("POSTGRES_DSN", ""),

		SendGridAPIKey: getenv("SENDGRID_API_KEY", ""),
		SendGridFrom:   getenv("SENDGRID_FROM", ""),
		NotifyEmail:    getenv("NOTIFY_EMAIL", ""),
	}
	return cfg
}

var validate = validator.New()

// Validate checks field formats and the settings that only make sense
// together.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Token == "" && (c.Email == "" || c.Password == "") {
		return fmt.Errorf("config: PMS_TOKEN or PMS_EMAIL and PMS_PASSWORD are required")
	}
	if c.SendGridAPIKey != "" && (c.SendGridFrom == "" || c.NotifyEmail == "") {
		return fmt.Errorf("config: SENDGRID_FROM and NOTIFY_EMAIL are required with SENDGRID_API_KEY")
	}
	return nil
}

// ConsoleEnabled reports whether the console has credentials to hand out
// tokens.
func (c Config) ConsoleEnabled() bool {
	return c.ConsoleJWTSecret != "" && c.ConsolePasswordHash != ""
}
