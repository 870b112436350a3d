package config

import (
	"github.com/spf13/viper"
	"sync"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("database_path", "DATABASE_PATH")
		viper.BindEnv("admin_chat_id", "ADMIN_CHAT_ID")
		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")
		viper.BindEnv("markets", "MARKETS")
		viper.BindEnv("coinpaprika_api_key", "COINPAPRIKA_API_KEY")
		viper.BindEnv("quote_timeout_seconds", "QUOTE_TIMEOUT_SECONDS")
		viper.BindEnv("alert_interval_minutes", "ALERT_INTERVAL_MINUTES")
		viper.BindEnv("alert_recheck_hours", "ALERT_RECHECK_HOURS")
		viper.BindEnv("daily_report_cron", "DAILY_REPORT_CRON")
		viper.BindEnv("dispatch_delay_ms", "DISPATCH_DELAY_MS")

		viper.SetDefault("database_path", "/app/data/bot.db")
		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
		viper.SetDefault("markets", "binance,okx,kucoin,gateio,bybit,mexc,coinpaprika")
		viper.SetDefault("quote_timeout_seconds", 10)
		viper.SetDefault("alert_interval_minutes", 5)
		viper.SetDefault("alert_recheck_hours", 0)
		viper.SetDefault("daily_report_cron", "55 23 * * *")
		viper.SetDefault("dispatch_delay_ms", 1000)
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	InitConfig()
	return viper.GetInt64(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}
