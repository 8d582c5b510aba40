package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	CORSAllowed       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	MLServiceURL      string        `mapstructure:"ML_SERVICE_URL"`
	RAGServiceURL     string        `mapstructure:"RAG_SERVICE_URL"`
	ClassifyTimeout   time.Duration `mapstructure:"CLASSIFY_TIMEOUT"`
	SuggestTimeout    time.Duration `mapstructure:"SUGGEST_TIMEOUT"`
	KBAddTimeout      time.Duration `mapstructure:"KB_ADD_TIMEOUT"`
	SideEffectTimeout time.Duration `mapstructure:"SIDE_EFFECT_TIMEOUT"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	RedisPassword     string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int           `mapstructure:"REDIS_DB"`
	SuggestionTTL     time.Duration `mapstructure:"SUGGESTION_CACHE_TTL"`
	MQTTBrokerURL     string        `mapstructure:"MQTT_BROKER_URL"`
	MQTTClientID      string        `mapstructure:"MQTT_CLIENT_ID"`
	TopicPrefix       string        `mapstructure:"MQTT_TOPIC_PREFIX"`

	DuplicateWindow    time.Duration `mapstructure:"DUPLICATE_WINDOW"`
	DuplicateThreshold float64       `mapstructure:"DUPLICATE_THRESHOLD"`
	ConfirmThreshold   float64       `mapstructure:"CONFIRM_THRESHOLD"`
	TitleFailsafeScore float64       `mapstructure:"TITLE_FAILSAFE_SCORE"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ML_SERVICE_URL", "")
	v.SetDefault("RAG_SERVICE_URL", "")
	v.SetDefault("CLASSIFY_TIMEOUT", "5s")
	v.SetDefault("SUGGEST_TIMEOUT", "10s")
	v.SetDefault("KB_ADD_TIMEOUT", "5s")
	v.SetDefault("SIDE_EFFECT_TIMEOUT", "10s")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SUGGESTION_CACHE_TTL", "1h")
	v.SetDefault("MQTT_BROKER_URL", "")
	v.SetDefault("MQTT_CLIENT_ID", "smartward-backend")
	v.SetDefault("MQTT_TOPIC_PREFIX", "smartward")
	v.SetDefault("DUPLICATE_WINDOW", "168h")
	v.SetDefault("DUPLICATE_THRESHOLD", 0.90)
	v.SetDefault("CONFIRM_THRESHOLD", 0.75)
	v.SetDefault("TITLE_FAILSAFE_SCORE", 0.98)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
