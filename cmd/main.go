package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/leonelquinteros/gotext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"

	"portfolio-telegram-bot/config"
	"portfolio-telegram-bot/internal/alert"
	"portfolio-telegram-bot/internal/database"
	"portfolio-telegram-bot/internal/market"
	"portfolio-telegram-bot/internal/price"
	"portfolio-telegram-bot/internal/scheduler"
	"portfolio-telegram-bot/internal/telegram"
	"portfolio-telegram-bot/lib/translation"
)

type BotMetrics struct {
	MessagesHandled prometheus.Counter
	AlertsFired     prometheus.Counter
	AlertTicks      prometheus.Counter
	ReportRuns      prometheus.Counter
	MessagesPerChat *prometheus.CounterVec
	QuoteFailures   *prometheus.CounterVec
	Mutex           sync.Mutex
}

var (
	metrics = NewBotMetrics()
)

func init() {
	config.InitConfig()
	setupLogging()
}

func NewBotMetrics() *BotMetrics {
	metrics := &BotMetrics{
		MessagesHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "telegram_bot",
			Name:      "messages_handled",
			Help:      "The total number of handled messages",
		}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "telegram_bot",
			Name:      "alerts_fired",
			Help:      "The total number of alert notifications dispatched",
		}),
		AlertTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "telegram_bot",
			Name:      "alert_ticks",
			Help:      "The total number of completed alert evaluation ticks",
		}),
		ReportRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "telegram_bot",
			Name:      "report_runs",
			Help:      "The total number of daily report job runs",
		}),
		MessagesPerChat: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "portfolio",
				Subsystem: "telegram_bot",
				Name:      "messages_per_chat",
				Help:      "The total number of messages handled per chat",
			},
			[]string{"chat_id"},
		),
		QuoteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "portfolio",
				Subsystem: "telegram_bot",
				Name:      "quote_failures",
				Help:      "The total number of failed price lookups per market",
			},
			[]string{"market"},
		),
	}

	prometheus.MustRegister(metrics.MessagesHandled)
	prometheus.MustRegister(metrics.AlertsFired)
	prometheus.MustRegister(metrics.AlertTicks)
	prometheus.MustRegister(metrics.ReportRuns)
	prometheus.MustRegister(metrics.MessagesPerChat)
	prometheus.MustRegister(metrics.QuoteFailures)

	return metrics
}

func main() {
	gotext.Configure("locales", strings.ToLower(config.GetString("lang")), "default")
	log.Infof("Using language: %s", translation.GetLanguage())

	if config.GetString("telegram_bot_token") == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	if err := database.InitDB(config.GetString("database_path")); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.CloseDB()

	// One process per deployment performs side-effecting work; the
	// lease in the shared store elects it. Losing the election is a
	// clean exit, a storage failure is not.
	instanceID := uuid.NewString()
	acquired, err := database.AcquireLock(instanceID)
	if err != nil {
		log.Fatalf("Failed to acquire run lock: %v", err)
	}
	if !acquired {
		log.Warn("Another instance holds the run lock, shutting down.")
		database.CloseDB()
		os.Exit(0)
	}

	LoadMetricsFromDB()

	registry := buildRegistry()
	quotes := price.NewAggregator(registry, time.Duration(config.GetInt("quote_timeout_seconds"))*time.Second)
	quotes.SetFailureCounter(metrics.QuoteFailures)

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:          config.GetString("telegram_bot_token"),
		Debug:          config.GetBool("debug"),
		UpdatesTimeout: 60,
	}, registry, quotes)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	alerts := alert.NewService(alert.Config{
		Quotes:          quotes,
		Notifier:        bot,
		DispatchDelay:   time.Duration(config.GetInt("dispatch_delay_ms")) * time.Millisecond,
		RecheckInterval: time.Duration(config.GetInt("alert_recheck_hours")) * time.Hour,
		FiredCounter:    metrics.AlertsFired,
	})
	bot.SetReporter(alerts)

	sched := scheduler.New()
	if err := sched.AddJob(fmt.Sprintf("@every %dm", config.GetInt("alert_interval_minutes")), alertJob{alerts}); err != nil {
		log.Fatalf("Failed to register alert job: %v", err)
	}
	if err := sched.AddJob(config.GetString("daily_report_cron"), reportJob{alerts}); err != nil {
		log.Fatalf("Failed to register daily report job: %v", err)
	}
	sched.Start()

	updates, err := bot.GetUpdatesChannel()
	if err != nil {
		log.Fatalf("Failed to get updates channel: %v", err)
	}

	go handleUpdates(bot, updates)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			SaveMetricsToDB()
		}
	}()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		sched.Stop()
		SaveMetricsToDB()
		if err := database.ReleaseLock(instanceID); err != nil {
			log.Errorf("Failed to release run lock: %v", err)
		}
		database.CloseDB()
		log.Info("Shut down cleanly.")
		os.Exit(0)
	}()

	sendStartupMessage(bot)

	if err := launchMetricsAndHealthServer(config.GetInt("metrics_port")); err != nil {
		log.Fatalf("Failed to start metrics and health server: %v", err)
	}
}

func setupLogging() {
	log.SetLevel(log.InfoLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting portfolio telegram bot...")
}

// buildRegistry constructs the adapter for every market named in the
// config. A market that fails to initialize is skipped with a log
// line rather than taking the whole process down.
func buildRegistry() *market.Registry {
	registry := market.NewRegistry()
	opts := market.Options{
		RateLimit: true,
		Timeout:   time.Duration(config.GetInt("quote_timeout_seconds")) * time.Second,
	}

	for _, name := range strings.Split(config.GetString("markets"), ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if name == "coinpaprika" {
			registry.Register(market.NewCoinpaprika(config.GetString("coinpaprika_api_key")))
			continue
		}
		adapter, err := market.NewExchange(name, "", opts)
		if err != nil {
			log.Errorf("Failed to initialize market %s: %v", name, err)
			continue
		}
		registry.Register(adapter)
	}
	return registry
}

type alertJob struct {
	alerts *alert.Service
}

func (j alertJob) Name() string { return "alert-check" }

func (j alertJob) Run() error {
	j.alerts.CheckAlerts(context.Background())
	metrics.AlertTicks.Inc()
	return nil
}

type reportJob struct {
	alerts *alert.Service
}

func (j reportJob) Name() string { return "daily-report" }

func (j reportJob) Run() error {
	j.alerts.SendDailyReports(context.Background())
	metrics.ReportRuns.Inc()
	return nil
}

func handleUpdates(bot *telegram.Bot, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if update.Message == nil && update.CallbackQuery == nil {
			log.Debug("Received non-message, non-callback update")
			continue
		}

		metrics.MessagesHandled.Inc()
		if update.Message != nil {
			metrics.MessagesPerChat.WithLabelValues(fmt.Sprintf("%d", update.Message.Chat.ID)).Inc()
		}

		if config.GetBool("debug") {
			log.Debugf("Update: %s", spew.Sdump(update))
		}

		handleUpdate(bot, update)
	}
}

func handleUpdate(bot *telegram.Bot, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	bot.HandleUpdate(update)
}

func sendStartupMessage(bot *telegram.Bot) {
	adminChatID := config.GetInt64("admin_chat_id")
	if adminChatID == 0 {
		return
	}
	err := bot.SendMessage(telegram.Message{
		ChatID: adminChatID,
		Text:   "🚀 *Bot is up and running\\!*",
	})
	if err != nil {
		log.Errorf("Failed to send startup message: %v", err)
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func launchMetricsAndHealthServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", healthCheckHandler)

	log.Infof("Launching metrics and health endpoint on :%d", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), http.DefaultServeMux)
}

func LoadMetricsFromDB() {
	metrics.Mutex.Lock()
	defer metrics.Mutex.Unlock()

	messagesHandled, _ := database.GetMetric("messages_handled")
	alertsFired, _ := database.GetMetric("alerts_fired")
	alertTicks, _ := database.GetMetric("alert_ticks")
	reportRuns, _ := database.GetMetric("report_runs")

	metrics.MessagesHandled.Add(messagesHandled)
	metrics.AlertsFired.Add(alertsFired)
	metrics.AlertTicks.Add(alertTicks)
	metrics.ReportRuns.Add(reportRuns)

	perChat, _ := database.GetMetricsWithLabels("messages_per_chat")
	for _, labelValues := range perChat {
		for chatID, value := range labelValues {
			metrics.MessagesPerChat.WithLabelValues(chatID).Add(value)
		}
	}

	perMarket, _ := database.GetMetricsWithLabels("quote_failures")
	for _, labelValues := range perMarket {
		for marketName, value := range labelValues {
			metrics.QuoteFailures.WithLabelValues(marketName).Add(value)
		}
	}

	log.Info("Metrics loaded from database.")
}

func SaveMetricsToDB() {
	metrics.Mutex.Lock()
	defer metrics.Mutex.Unlock()

	database.SaveMetric("messages_handled", "", "", GetMetricValue(metrics.MessagesHandled))
	database.SaveMetric("alerts_fired", "", "", GetMetricValue(metrics.AlertsFired))
	database.SaveMetric("alert_ticks", "", "", GetMetricValue(metrics.AlertTicks))
	database.SaveMetric("report_runs", "", "", GetMetricValue(metrics.ReportRuns))

	saveCounterVec("messages_per_chat", "chat_id", metrics.MessagesPerChat)
	saveCounterVec("quote_failures", "market", metrics.QuoteFailures)

	log.Info("Metrics saved to database.")
}

func saveCounterVec(metricName, labelName string, vec *prometheus.CounterVec) {
	metricChan := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(metricChan)
		close(metricChan)
	}()

	for metric := range metricChan {
		metricProto := &dto.Metric{}
		if err := metric.Write(metricProto); err != nil {
			log.Errorf("Failed to read %s metric: %v", metricName, err)
			continue
		}
		var labelValue string
		for _, label := range metricProto.Label {
			if label.GetName() == labelName {
				labelValue = label.GetValue()
			}
		}
		database.SaveMetric(metricName, labelName, labelValue, metricProto.Counter.GetValue())
	}
}

func GetMetricValue(metric prometheus.Collector) float64 {
	var metricValue float64
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.Errorf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		metricValue = metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		metricValue = metricProto.Gauge.GetValue()
	}
	return metricValue
}
