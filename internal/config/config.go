package config

import (
	"fmt"
	"os"
	"strconv"

	"voxgram/internal/access"
)

// Error reports a missing or malformed required setting. Startup-only and
// fatal: the process must exit before binding the listener.
type Error struct {
	Var    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s %s", e.Var, e.Reason)
}

type Models struct {
	Chat       string
	Transcribe string
	Speech     string
	Voice      string
	Image      string
}

// Config is loaded once at startup and read-only afterwards.
type Config struct {
	BotToken   string
	OpenAIKey  string
	WebhookURL string // public base URL, e.g. https://yourapp.up.railway.app
	Port       int
	AllowedIDs []int64
	Models     Models
}

func Load() (*Config, error) {
	cfg := &Config{
		Port: 8080,
		Models: Models{
			Chat:       "gpt-4o-mini",
			Transcribe: "whisper-1",
			Speech:     "tts-1",
			Voice:      "alloy",
			Image:      "gpt-image-1",
		},
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.BotToken == "" {
		return nil, &Error{Var: "TELEGRAM_BOT_TOKEN", Reason: "not set"}
	}
	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIKey == "" {
		return nil, &Error{Var: "OPENAI_API_KEY", Reason: "not set"}
	}
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	if cfg.WebhookURL == "" {
		return nil, &Error{Var: "WEBHOOK_URL", Reason: "not set (e.g. https://yourapp.up.railway.app)"}
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, &Error{Var: "PORT", Reason: "is not a valid port: " + v}
		}
		cfg.Port = port
	}

	cfg.AllowedIDs = access.ParseAllowList(os.Getenv("ALLOWED_USER_IDS"))

	setIf := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIf(&cfg.Models.Chat, "OPENAI_CHAT_MODEL")
	setIf(&cfg.Models.Transcribe, "OPENAI_TRANSCRIBE_MODEL")
	setIf(&cfg.Models.Speech, "OPENAI_TTS_MODEL")
	setIf(&cfg.Models.Voice, "OPENAI_TTS_VOICE")
	setIf(&cfg.Models.Image, "OPENAI_IMAGE_MODEL")

	return cfg, nil
}
