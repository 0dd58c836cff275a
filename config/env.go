package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"realty-network/internal/services/compensation/rules"
)

type Config struct {
	Redis        RedisConfig
	DB           DBConfig
	Auth         AuthConfig
	Server       ServerConfig
	Log          LogConfig
	Compensation CompensationConfig
}

type DBConfig struct {
	DSN      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type ServerConfig struct {
	HTTPAddr  string
	GRPCAddr  string
	RateLimit string
}

type LogConfig struct {
	Level  string
	Format string
}

// CompensationConfig carries the payout and qualification settings. Values
// are percentages expressed on a 0-100 scale.
type CompensationConfig struct {
	DirectPercent    decimal.Decimal
	PoolPercent      decimal.Decimal
	TDSRate          decimal.Decimal
	MaxLevel         int
	StrongLegPercent decimal.Decimal
	WeakLegPercent   decimal.Decimal
	CapWeakLegs      bool
	EarnedBasis      string
	VolumeMaxNodes   int
	DispatchWorkers  int
	DispatchQueue    int
	SettleTimeout    time.Duration
	RankSweepCron    string
	RankSweepTZ      string
	SweepConcurrency int
	SummaryCacheTTL  time.Duration
	PlanFile         string
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	return Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		DB: DBConfig{
			DSN:      getEnv("COMPENSATION_DSN", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "realty_network"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Server: ServerConfig{
			HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:  getEnv("GRPC_ADDR", ":50053"),
			RateLimit: getEnv("RATE_LIMIT", "100-M"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Compensation: CompensationConfig{
			DirectPercent:    getEnvDecimal("DIRECT_PCT", decimal.NewFromInt(5)),
			PoolPercent:      getEnvDecimal("POOL_PCT", decimal.NewFromInt(15)),
			TDSRate:          getEnvDecimal("TDS_RATE", decimal.NewFromInt(5)),
			MaxLevel:         getEnvInt("MAX_LEVEL", 10),
			StrongLegPercent: getEnvDecimal("STRONG_LEG_PCT", decimal.NewFromInt(60)),
			WeakLegPercent:   getEnvDecimal("WEAK_LEG_PCT", decimal.NewFromInt(40)),
			CapWeakLegs:      getEnvBool("CAP_WEAK_LEGS", true),
			EarnedBasis:      strings.ToUpper(getEnv("EARNED_BASIS", rules.EarnedNet)),
			VolumeMaxNodes:   getEnvInt("VOLUME_MAX_NODES", 100000),
			DispatchWorkers:  getEnvInt("DISPATCH_WORKERS", 4),
			DispatchQueue:    getEnvInt("DISPATCH_QUEUE", 256),
			SettleTimeout:    getEnvDuration("SETTLE_TIMEOUT", 0),
			RankSweepCron:    getEnv("RANK_SWEEP_CRON", "0 2 * * *"),
			RankSweepTZ:      getEnv("RANK_SWEEP_TZ", "Asia/Kolkata"),
			SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 4),
			SummaryCacheTTL:  getEnvDuration("SUMMARY_CACHE_TTL", 2*time.Hour),
			PlanFile:         getEnv("PLAN_FILE", ""),
		},
	}
}

// ConnectionString returns COMPENSATION_DSN when set, otherwise a DSN built
// from the discrete DB_* settings.
func (c DBConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// Plan builds the compensation plan from the default schedule, the env
// overrides and, when PLAN_FILE is set, the YAML plan file on top.
func (c CompensationConfig) Plan() (rules.Plan, error) {
	plan := rules.DefaultPlan()
	plan.DirectPercent = c.DirectPercent
	plan.PoolPercent = c.PoolPercent
	plan.TDSRate = c.TDSRate
	plan.MaxLevel = c.MaxLevel
	plan.StrongLegPercent = c.StrongLegPercent
	plan.WeakLegPercent = c.WeakLegPercent
	plan.CapWeakLegs = c.CapWeakLegs
	plan.EarnedBasis = c.EarnedBasis

	if c.PlanFile != "" {
		loaded, err := rules.LoadPlanFile(c.PlanFile, plan)
		if err != nil {
			return rules.Plan{}, err
		}
		plan = loaded
	}

	if err := plan.Validate(); err != nil {
		return rules.Plan{}, err
	}
	return plan, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value, err := decimal.NewFromString(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
