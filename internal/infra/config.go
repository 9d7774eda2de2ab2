package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/spaceai-autonomy/internal/domain"
)

// Config: корневая структура конфигурации движка автономии.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     ServerConfig   `mapstructure:"grpc"`
	Console  ServerConfig   `mapstructure:"console"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Autonomy AutonomyConfig `mapstructure:"autonomy"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки сервера (вход ситуаций, gRPC или консоль).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr: адрес для net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и состояние).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: публичный ключ для проверки RS256 токенов операторов консоли.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// EngineConfig: настройки исполнения и журнала.
type EngineConfig struct {
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	EscalationTimeout time.Duration `mapstructure:"escalation_timeout"`
	MaxReassignments  int           `mapstructure:"max_reassignments"`
	ReliabilityWindow int           `mapstructure:"reliability_window"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Адреса внешних коллабораторов (пул исполнителей и валидатор)
	WorkerAddr    string `mapstructure:"worker_addr"`
	ValidatorAddr string `mapstructure:"validator_addr"`

	// Настройки Circuit Breaker и лимитера для пула исполнителей
	CBMaxRequests      uint32        `mapstructure:"cb_max_requests"`
	CBInterval         time.Duration `mapstructure:"cb_interval"`
	CBTimeout          time.Duration `mapstructure:"cb_timeout"`
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	RateBurst          int           `mapstructure:"rate_burst"`
}

// AutonomyConfig: пороги, веса, обучение и эвристики оценки.
type AutonomyConfig struct {
	Thresholds        domain.Thresholds        `mapstructure:"thresholds"`
	RiskCritical      float64                  `mapstructure:"risk_critical"`
	Weights           domain.ConfidenceWeights `mapstructure:"weights"`
	Learning          domain.LearningConfig    `mapstructure:"learning"`
	NeutralConfidence float64                  `mapstructure:"neutral_confidence"`
	HistoryLimit      int                      `mapstructure:"history_limit"`
	RulesFile         string                   `mapstructure:"rules_file"`

	// Ключи контекста, без которых задача данного типа считается недоописанной
	RequiredContext map[string][]string `mapstructure:"required_context"`
	// Оценка ресурсов по сложности и общая емкость
	ResourceEstimates map[string]float64 `mapstructure:"resource_estimates"`
	ResourceCapacity  float64            `mapstructure:"resource_capacity"`

	FinancialCeiling float64 `mapstructure:"financial_ceiling"`
	AmountKey        string  `mapstructure:"amount_key"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, console
	File       string `mapstructure:"file"`   // пусто — stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV, и валидирует ее.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// AUTONOMY_THRESHOLDS_AUTONOMOUS=0.75 перекроет autonomy.thresholds.autonomous
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	return decode(v)
}

// LoadConfigFile читает конфигурацию из явно указанного файла.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults: конфигурация только из значений по умолчанию. Удобно для тестов.
// Паникует, если значения по умолчанию не ложатся в Config: это ошибка в setDefaults.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("infra: default config does not decode: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("grpc.port", 50052)
	v.SetDefault("console.port", 8000)
	v.SetDefault("console.read_timeout", 5*time.Second)
	v.SetDefault("console.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age_days", 30)

	v.SetDefault("engine.task_timeout", 2*time.Minute)
	v.SetDefault("engine.escalation_timeout", 5*time.Second)
	v.SetDefault("engine.max_reassignments", 2)
	v.SetDefault("engine.reliability_window", 50)
	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_batch_size", 100)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.worker_addr", "localhost:50051")
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_failure_threshold", 5)
	v.SetDefault("engine.rate_limit", 100)
	v.SetDefault("engine.rate_burst", 20)

	v.SetDefault("autonomy.thresholds.autonomous", 0.70)
	v.SetDefault("autonomy.thresholds.validated", 0.55)
	v.SetDefault("autonomy.thresholds.minimum", 0.40)
	v.SetDefault("autonomy.thresholds.risk_high", 0.6)
	v.SetDefault("autonomy.thresholds.risk_medium", 0.3)
	v.SetDefault("autonomy.risk_critical", 0.8)

	v.SetDefault("autonomy.weights.historical", 0.30)
	v.SetDefault("autonomy.weights.reliability", 0.25)
	v.SetDefault("autonomy.weights.complexity", 0.15)
	v.SetDefault("autonomy.weights.clarity", 0.10)
	v.SetDefault("autonomy.weights.resources", 0.10)
	v.SetDefault("autonomy.weights.context", 0.10)

	v.SetDefault("autonomy.learning.relax_step", 0.01)
	v.SetDefault("autonomy.learning.tighten_step", 0.05)
	v.SetDefault("autonomy.learning.floor", 0.5)
	v.SetDefault("autonomy.learning.ceiling", 0.95)

	v.SetDefault("autonomy.neutral_confidence", 0.5)
	v.SetDefault("autonomy.history_limit", 50)
	v.SetDefault("autonomy.rules_file", "configs/rules.yaml")
	v.SetDefault("autonomy.resource_estimates", map[string]float64{"low": 1, "medium": 2, "high": 4})
	v.SetDefault("autonomy.resource_capacity", 8)
	v.SetDefault("autonomy.financial_ceiling", 10000)
	v.SetDefault("autonomy.amount_key", "amount")
}

// loadKeyResource: ключ из ENV (PEM целиком) или из файла
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
