package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers     []string
	PickupQueueTopic string
	PickupQueueGroup string

	BankURL      string
	LogisticsURL string
	EquipmentURL string
	SupplierURLs map[string]string
	PartnerRetry int

	AuthSecret            string
	OperatorUsername      string
	OperatorPassword      string
	AccessTokenTTLMinutes int

	LogLevel  string
	LogFormat string

	SimDaySeconds          int
	OrderExpiryDays        int
	MachineName            string
	AccountCacheTTLSeconds int
	PriceMarkup            decimal.Decimal
	DefaultPlasticCost     decimal.Decimal
	DefaultAluminiumCost   decimal.Decimal

	Decision DecisionThresholds
}

// DecisionThresholds parameterise the procurement policy.
type DecisionThresholds struct {
	LoanAmount          decimal.Decimal
	LowCash             decimal.Decimal
	ExcessCash          decimal.Decimal
	MaterialMinimum     int
	DemandRatio         decimal.Decimal
	MachineMinimum      int
	MaterialOrderRounds int
}

// Load reads the process environment. A .env file in the working directory is
// applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	simDay := getEnvInt("SIM_DAY_SECONDS", 120)
	expiryDays := getEnvInt("ORDER_EXPIRY_DAYS", 7)
	cacheTTL := getEnvInt("ACCOUNT_CACHE_TTL_SECONDS", 300)
	retries := getEnvInt("PARTNER_MAX_ATTEMPTS", 4)

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		PickupQueueTopic: getEnv("PICKUP_QUEUE_TOPIC", "pickup-requests"),
		PickupQueueGroup: getEnv("PICKUP_QUEUE_GROUP", "case-closed-pickups"),

		BankURL:      strings.TrimRight(os.Getenv("BANK_URL"), "/"),
		LogisticsURL: strings.TrimRight(os.Getenv("LOGISTICS_URL"), "/"),
		EquipmentURL: strings.TrimRight(os.Getenv("EQUIPMENT_URL"), "/"),
		SupplierURLs: parseSuppliers(os.Getenv("SUPPLIER_URLS")),
		PartnerRetry: retries,

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		OperatorUsername:      getEnv("OPERATOR_USERNAME", "operator"),
		OperatorPassword:      strings.TrimSpace(os.Getenv("OPERATOR_PASSWORD")),
		AccessTokenTTLMinutes: tokenTTL,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		SimDaySeconds:          simDay,
		OrderExpiryDays:        expiryDays,
		MachineName:            getEnv("MACHINE_NAME", "case_machine"),
		AccountCacheTTLSeconds: cacheTTL,
		PriceMarkup:            getEnvDecimal("PRICE_MARKUP", "1.3"),
		DefaultPlasticCost:     getEnvDecimal("DEFAULT_PLASTIC_COST", "10"),
		DefaultAluminiumCost:   getEnvDecimal("DEFAULT_ALUMINIUM_COST", "12"),

		Decision: DecisionThresholds{
			LoanAmount:          getEnvDecimal("DECISION_LOAN_AMOUNT", "1000000"),
			LowCash:             getEnvDecimal("DECISION_LOW_CASH", "50000"),
			ExcessCash:          getEnvDecimal("DECISION_EXCESS_CASH", "5000000"),
			MaterialMinimum:     getEnvInt("DECISION_MATERIAL_MIN", 5000),
			DemandRatio:         getEnvDecimal("DECISION_DEMAND_RATIO", "0.5"),
			MachineMinimum:      getEnvInt("DECISION_MACHINE_MIN", 1),
			MaterialOrderRounds: 1000,
		},
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getEnvDecimal(key string, fallback string) decimal.Decimal {
	val, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil || val.IsNegative() {
		return decimal.RequireFromString(fallback)
	}
	return val
}

func splitList(raw string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSuppliers reads "name=url,name=url".
func parseSuppliers(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitList(raw) {
		name, url, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimRight(strings.TrimSpace(url), "/")
		if !ok || name == "" || url == "" {
			continue
		}
		out[name] = url
	}
	return out
}
