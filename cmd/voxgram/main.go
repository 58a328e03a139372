package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"voxgram/internal/access"
	"voxgram/internal/bot"
	"voxgram/internal/config"
	"voxgram/internal/provider"
	"voxgram/internal/proxy"
	"voxgram/internal/telegram"
	"voxgram/pkg/audioconv"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Optional SOCKS proxy for provider calls (host:port)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded configuration", "port", cfg.Port, "allowed", len(cfg.AllowedIDs))

	var providerHTTP *http.Client
	if *proxyAddr != "" {
		providerHTTP, err = proxy.NewSocksClient(*proxyAddr)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		log.Debug("Provider calls go through proxy", "proxy", *proxyAddr)
	}

	ai := provider.New(cfg.OpenAIKey, cfg.Models, providerHTTP)
	tg := telegram.NewClient(cfg.BotToken)
	gate := access.NewGate(cfg.AllowedIDs)
	dispatcher := bot.NewDispatcher(tg, ai, gate, audioconv.Converter{})

	// The webhook path is derived from the bot token, so only the platform
	// knows where to deliver.
	hookPath := "/" + cfg.BotToken

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := tg.SetWebhook(ctx, cfg.WebhookURL+hookPath); err != nil {
		cancel()
		log.Error("Failed to register webhook", "err", err)
		os.Exit(1)
	}
	cancel()

	mux := http.NewServeMux()
	mux.Handle(hookPath, dispatcher)

	log.Info("Boot up - successful", "port", cfg.Port)

	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), mux); err != nil {
		log.Error("Listener failed", "err", err)
		os.Exit(1)
	}
}
