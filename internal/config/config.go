package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env      string
		Timezone string // бизнес-зона; дни считаем в ней, а не в зоне сервера
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Redis struct {
		Enabled bool
		Addr    string
		MinTTL  time.Duration `mapstructure:"min_ttl"` // пол TTL, защита от почти нулевых значений
	} `mapstructure:"redis"`

	Cache struct {
		CatalogTTL    time.Duration `mapstructure:"catalog_ttl"`
		QueryTTL      time.Duration `mapstructure:"query_ttl"`
		ListingTTL    time.Duration `mapstructure:"listing_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"cache"`

	Stock struct {
		LowThreshold float64 `mapstructure:"low_threshold"` // сид для settings, дальше правится через UpdateSetting
	} `mapstructure:"stock"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("app.timezone", "Asia/Shanghai")
	v.SetDefault("redis.min_ttl", time.Minute)
	v.SetDefault("cache.catalog_ttl", 6*time.Hour)
	v.SetDefault("cache.query_ttl", 30*time.Minute)
	v.SetDefault("cache.listing_ttl", 5*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("stock.low_threshold", 10)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}
