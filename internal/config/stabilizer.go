package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/stp258/serp/internal/distribution"
	"github.com/stp258/serp/internal/ledger"
	"github.com/stp258/serp/internal/serp"
)

// Stabilizer is the on-disk stabilizer parameter file.
type Stabilizer struct {
	Native            string           `mapstructure:"native"`
	StabilityFund     string           `mapstructure:"stability_fund"`
	MarketMaker       string           `mapstructure:"market_maker"`
	Ratios            RatioConfig      `mapstructure:"ratios"`
	SerpQuoteMultiple uint64           `mapstructure:"serp_quote_multiple"`
	Currencies        []CurrencyConfig `mapstructure:"currencies"`
	Genesis           []GenesisConfig  `mapstructure:"genesis"`
}

// RatioConfig holds the distribution percentages.
type RatioConfig struct {
	StabilityFund uint64 `mapstructure:"stability_fund"`
	MarketMaker   uint64 `mapstructure:"market_maker"`
}

// CurrencyConfig declares a currency and its base unit.
type CurrencyConfig struct {
	ID       string `mapstructure:"id"`
	BaseUnit uint64 `mapstructure:"base_unit"`
}

// GenesisConfig is an initial balance minted at first start.
type GenesisConfig struct {
	Currency string `mapstructure:"currency"`
	Account  string `mapstructure:"account"`
	Free     uint64 `mapstructure:"free"`
	Reserved uint64 `mapstructure:"reserved"`
}

// DefaultStabilizer returns the development parameters: DNAR reserve,
// SETTUSD stablecoin, 75/25 split and a quote multiple of 2.
func DefaultStabilizer() Stabilizer {
	return Stabilizer{
		Native:            "DNAR",
		StabilityFund:     "settpay",
		MarketMaker:       "serper",
		Ratios:            RatioConfig{StabilityFund: 75, MarketMaker: 25},
		SerpQuoteMultiple: 2,
		Currencies: []CurrencyConfig{
			{ID: "DNAR", BaseUnit: 1_000},
			{ID: "SETTUSD", BaseUnit: 1_000},
		},
	}
}

// LoadStabilizer reads the parameter file at path (YAML, JSON or TOML).
// Scalar keys can be overridden with SERP_ prefixed variables, e.g.
// SERP_RATIOS_MARKET_MAKER=20.
func LoadStabilizer(path string) (Stabilizer, error) {
	defaults := DefaultStabilizer()

	v := viper.New()
	v.SetEnvPrefix("SERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("native", defaults.Native)
	v.SetDefault("stability_fund", defaults.StabilityFund)
	v.SetDefault("market_maker", defaults.MarketMaker)
	v.SetDefault("ratios.stability_fund", defaults.Ratios.StabilityFund)
	v.SetDefault("ratios.market_maker", defaults.Ratios.MarketMaker)
	v.SetDefault("serp_quote_multiple", defaults.SerpQuoteMultiple)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Stabilizer{}, fmt.Errorf("read stabilizer config %s: %w", path, err)
		}
	}

	var s Stabilizer
	if err := v.Unmarshal(&s); err != nil {
		return Stabilizer{}, fmt.Errorf("decode stabilizer config: %w", err)
	}
	if len(s.Currencies) == 0 {
		s.Currencies = defaults.Currencies
	}
	if err := s.Validate(); err != nil {
		return Stabilizer{}, err
	}
	return s, nil
}

// Validate checks the parameters and the genesis entries.
func (s Stabilizer) Validate() error {
	seen := make(map[string]struct{}, len(s.Currencies))
	for _, c := range s.Currencies {
		if c.ID == "" {
			return fmt.Errorf("currency with empty id")
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("currency %s declared twice", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	for _, g := range s.Genesis {
		if _, ok := seen[g.Currency]; !ok {
			return fmt.Errorf("genesis balance for undeclared currency %q", g.Currency)
		}
		if g.Account == "" {
			return fmt.Errorf("genesis balance for %s has no account", g.Currency)
		}
	}
	return s.Params().Validate()
}

// Params converts the file into controller parameters.
func (s Stabilizer) Params() serp.Params {
	units := make(map[ledger.CurrencyID]uint64, len(s.Currencies))
	for _, c := range s.Currencies {
		units[ledger.CurrencyID(c.ID)] = c.BaseUnit
	}
	return serp.Params{
		Native:        ledger.CurrencyID(s.Native),
		StabilityFund: ledger.AccountID(s.StabilityFund),
		MarketMaker:   ledger.AccountID(s.MarketMaker),
		Ratios: distribution.Ratios{
			StabilityFund: s.Ratios.StabilityFund,
			MarketMaker:   s.Ratios.MarketMaker,
		},
		SerpQuoteMultiple: s.SerpQuoteMultiple,
		BaseUnits:         units,
	}
}

// GenesisBalances converts the genesis section.
func (s Stabilizer) GenesisBalances() []serp.GenesisBalance {
	out := make([]serp.GenesisBalance, 0, len(s.Genesis))
	for _, g := range s.Genesis {
		out = append(out, serp.GenesisBalance{
			Currency: ledger.CurrencyID(g.Currency),
			Account:  ledger.AccountID(g.Account),
			Free:     g.Free,
			Reserved: g.Reserved,
		})
	}
	return out
}
