package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("PORT", "")
	t.Setenv("OPERATOR_RATE_LIMIT", "")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "")
	t.Setenv("IDEMPOTENCY_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.KafkaTopic != "serp.events" || len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected kafka config %+v", cfg)
	}
	if cfg.OperatorRateLimit != 60 || cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadRequiresBackendsOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing DATABASE_URL error")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/serp")
	t.Setenv("OPERATOR_KEY_HASH", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing OPERATOR_KEY_HASH error")
	}

	t.Setenv("OPERATOR_KEY_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("SERP_CONFIG_FILE", "/etc/serp/stabilizer.yaml")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid shutdown timeout")
	}
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "")
	t.Setenv("OPERATOR_RATE_LIMIT", "-3")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid rate limit")
	}
}

const stabilizerYAML = `
native: DNAR
stability_fund: settpay
market_maker: serper
ratios:
  stability_fund: 70
  market_maker: 30
serp_quote_multiple: 3
currencies:
  - id: DNAR
    base_unit: 1000
  - id: SETTUSD
    base_unit: 100
genesis:
  - currency: DNAR
    account: serper
    reserved: 200000
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadStabilizer(t *testing.T) {
	s, err := LoadStabilizer(writeFile(t, "stabilizer.yaml", stabilizerYAML))
	if err != nil {
		t.Fatalf("load stabilizer: %v", err)
	}
	p := s.Params()
	if p.Native != "DNAR" || p.Ratios.StabilityFund != 70 || p.Ratios.MarketMaker != 30 || p.SerpQuoteMultiple != 3 {
		t.Fatalf("unexpected params %+v", p)
	}
	if p.BaseUnits["SETTUSD"] != 100 {
		t.Fatalf("unexpected base units %v", p.BaseUnits)
	}
	genesis := s.GenesisBalances()
	if len(genesis) != 1 || genesis[0].Reserved != 200_000 || genesis[0].Account != "serper" {
		t.Fatalf("unexpected genesis %+v", genesis)
	}
}

func TestLoadStabilizerEnvOverride(t *testing.T) {
	t.Setenv("SERP_RATIOS_MARKET_MAKER", "20")
	t.Setenv("SERP_SERP_QUOTE_MULTIPLE", "5")
	s, err := LoadStabilizer(writeFile(t, "stabilizer.yaml", stabilizerYAML))
	if err != nil {
		t.Fatalf("load stabilizer: %v", err)
	}
	if s.Ratios.MarketMaker != 20 || s.SerpQuoteMultiple != 5 {
		t.Fatalf("expected env overrides, got %+v", s)
	}
}

func TestLoadStabilizerWithoutFileUsesDefaults(t *testing.T) {
	s, err := LoadStabilizer("")
	if err != nil {
		t.Fatalf("load stabilizer: %v", err)
	}
	if s.Native != "DNAR" || len(s.Currencies) != 2 || s.Ratios.StabilityFund != 75 {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestStabilizerValidation(t *testing.T) {
	cases := map[string]func(*Stabilizer){
		"ratios above 100":   func(s *Stabilizer) { s.Ratios = RatioConfig{StabilityFund: 80, MarketMaker: 30} },
		"zero base unit":     func(s *Stabilizer) { s.Currencies[1].BaseUnit = 0 },
		"native undeclared":  func(s *Stabilizer) { s.Native = "BTC" },
		"same accounts":      func(s *Stabilizer) { s.MarketMaker = s.StabilityFund },
		"empty account":      func(s *Stabilizer) { s.StabilityFund = "" },
		"duplicate currency": func(s *Stabilizer) { s.Currencies = append(s.Currencies, CurrencyConfig{ID: "DNAR", BaseUnit: 1}) },
		"genesis unknown": func(s *Stabilizer) {
			s.Genesis = []GenesisConfig{{Currency: "EUR", Account: "alice", Free: 1}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := DefaultStabilizer()
			mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := DefaultStabilizer().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadStabilizerMissingFile(t *testing.T) {
	if _, err := LoadStabilizer(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
