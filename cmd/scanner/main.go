package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"fb-lead-scanner/internal/adapters/api"
	"fb-lead-scanner/internal/adapters/billingclient"
	"fb-lead-scanner/internal/adapters/classifier"
	"fb-lead-scanner/internal/adapters/intake"
	"fb-lead-scanner/internal/adapters/notify"
	"fb-lead-scanner/internal/adapters/repo"
	"fb-lead-scanner/internal/adapters/state"
	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/config"
	"fb-lead-scanner/internal/infra/db"
	httpinfra "fb-lead-scanner/internal/infra/http"
	applog "fb-lead-scanner/internal/infra/log"
	"fb-lead-scanner/internal/infra/metrics"
	"fb-lead-scanner/internal/infra/openai"
	"fb-lead-scanner/internal/pkg/timing"
	"fb-lead-scanner/internal/usecase/automation"
	"fb-lead-scanner/internal/usecase/groups"
	"fb-lead-scanner/internal/usecase/scan"
	"fb-lead-scanner/internal/usecase/session"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "scanner")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("scanner: неизвестная таймзона")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scanner: нет подключения к БД")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("scanner: нет подключения к Redis")
	}
	defer rdb.Close()

	stateRepo := state.NewRedis(rdb, cfg.Limits.LedgerCap)
	repoAdapter := repo.NewPostgres(pool)

	var gate domain.FeatureGate
	if cfg.Billing.BaseURL != "" {
		gate, err = billingclient.New(cfg.Billing.BaseURL, cfg.Billing.UserID)
		if err != nil {
			logger.Fatal().Err(err).Msg("scanner: некорректная конфигурация биллинга")
		}
	} else {
		// Без биллинга pro-функции открыты только в dev.
		gate = billingclient.Static(cfg.AppEnv == "dev")
		logger.Warn().Msg("scanner: биллинг не настроен, статус подписки фиксированный")
	}

	var clf domain.Classifier
	if cfg.OpenAI.APIKey != "" {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, time.Duration(cfg.OpenAI.TimeoutSeconds)*time.Second)
		clf = classifier.NewLLM(client, cfg.OpenAI.Model, time.Duration(cfg.OpenAI.TimeoutSeconds)*time.Second)
	} else {
		clf = classifier.NewKeyword()
		logger.Warn().Msg("scanner: OpenAI не настроен, работает эвристический классификатор")
	}

	var notifier domain.Notifier
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("scanner: не удалось создать Telegram бота")
		}
		notifier = notify.NewTelegram(bot, cfg.Telegram.ChatID, logger)
	} else {
		notifier = notify.NewNop(logger)
		logger.Warn().Msg("scanner: Telegram не настроен, уведомления только в лог")
	}

	ledger := scan.NewLedger(stateRepo, cfg.Limits.LedgerCap)
	if err := ledger.Hydrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scanner: не удалось загрузить журнал идентификаторов")
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ledger.Flush(ctx); err != nil {
					logger.Error().Err(err).Msg("scanner: не удалось сохранить журнал идентификаторов")
				}
			}
		}
	}()
	guard := session.NewGuard(stateRepo, loc, logger)
	bucket := timing.NewBucket(cfg.Limits.ScanRate, time.Duration(cfg.Limits.ScanRateWindowS)*time.Second)

	scanSvc := scan.NewService(ledger, guard, repoAdapter, repoAdapter, clf, notifier, stateRepo, bucket, logger)
	observer := scan.NewObserver(scanSvc, stateRepo, logger, 0)

	broker, err := intake.NewBroker(cfg.AMQP.URL, cfg.AMQP.IntakeQueue, cfg.AMQP.CommandQueue, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scanner: нет подключения к RabbitMQ")
	}
	defer broker.Close()

	dispatcher := intake.NewDispatcher(broker)
	consumer := intake.NewConsumer(broker, scanSvc, observer, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scanner: консьюмер остановлен")
			stop()
		}
	}()

	scheduler := automation.NewScheduler(stateRepo, repoAdapter, gate, guard, dispatcher, logger)
	if saved, err := stateRepo.LoadAutomationState(ctx); err != nil {
		logger.Error().Err(err).Msg("scanner: не удалось прочитать состояние автоматики")
	} else if saved.IsRunning {
		// Автоматика была активна до рестарта: продолжаем цикл.
		if err := scheduler.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("scanner: автоматика не возобновлена")
		}
	}

	groupsUC := groups.NewService(repoAdapter, gate, cfg.Limits.FreeGroupsLimit)
	handler := api.NewHandler(scanSvc, scheduler, groupsUC, repoAdapter, repoAdapter, stateRepo, gate, logger)

	server := httpinfra.NewServer(logger)
	handler.Mount(server.Router)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("scanner: HTTP сервер остановлен")
			stop()
		}
	}()

	logger.Info().Msg("scanner: старт")
	<-ctx.Done()
	logger.Info().Msg("scanner: остановка")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scanner: не удалось остановить автоматику")
	}
	if err := ledger.Flush(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scanner: не удалось сохранить журнал идентификаторов")
	}
	_ = server.Shutdown(shutdownCtx)
}
