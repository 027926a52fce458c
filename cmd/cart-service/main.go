package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envHTTPAddr        = "CART_HTTP_ADDR"
	envMetricsAddr     = "CART_METRICS_ADDR"
	envPostgresDSN     = "CART_POSTGRES_DSN"
	envKafkaBrokers    = "KAFKA_BROKERS"
	envDefaultCurrency = "CART_DEFAULT_CURRENCY"
	envDefaultChannel  = "CART_DEFAULT_CHANNEL"
)

// envLookup абстрагирует os.LookupEnv для тестируемости конфигурации.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv формирует конфигурацию приложения из переменных окружения.
// Некорректные значения не прерывают запуск: возвращаются warnings, а поле
// сохраняет значение по умолчанию.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	if v, ok := lookup(envHTTPAddr); ok && strings.TrimSpace(v) != "" {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(envMetricsAddr); ok && strings.TrimSpace(v) != "" {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPostgresDSN); ok {
		cfg.PostgresDSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = strings.TrimSpace(v)
	}

	if v, ok := lookup(envDefaultCurrency); ok {
		currency, err := parseCurrency(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envDefaultCurrency, err))
		} else {
			cfg.DefaultCurrency = currency
		}
	}
	if v, ok := lookup(envDefaultChannel); ok {
		channel := strings.TrimSpace(v)
		if channel == "" {
			warnings = append(warnings, fmt.Sprintf("%s: channel must not be empty", envDefaultChannel))
		} else {
			cfg.DefaultChannel = channel
		}
	}

	return cfg, warnings
}

// parseCurrency проверяет, что код валюты состоит из трёх букв, и нормализует регистр.
func parseCurrency(value string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(value))
	if len(code) != 3 {
		return "", fmt.Errorf("currency code must be 3 letters, got %q", value)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("currency code must be 3 letters, got %q", value)
		}
	}
	return code, nil
}

func main() {
	setupLogger()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"currency":     cfg.DefaultCurrency,
		"channel":      cfg.DefaultChannel,
		"version":      version.GetVersion(),
	}).Info("запускаем сервис корзины")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("сервис корзины остановлен")
}
