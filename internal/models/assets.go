package models

import (
	"github.com/shopspring/decimal"
)

// AssetConfig is one (symbol, network) entry of the asset catalog
type AssetConfig struct {
	Symbol                string          `yaml:"symbol"`
	Network               string          `yaml:"network"`
	Decimals              int             `yaml:"decimals"`
	RequiredConfirmations int             `yaml:"required_confirmations"`
	WithdrawalFee         decimal.Decimal `yaml:"-"`
	MinWithdrawal         decimal.Decimal `yaml:"-"`
	PrimeWalletId         string          `yaml:"prime_wallet_id"`
}

// AssetCatalog indexes asset settings by currency and chain. A nil catalog
// answers every lookup with "not found".
type AssetCatalog struct {
	assets map[string]AssetConfig
}

func NewAssetCatalog(assets []AssetConfig) *AssetCatalog {
	c := &AssetCatalog{assets: make(map[string]AssetConfig, len(assets))}
	for _, a := range assets {
		c.assets[a.Symbol+"-"+a.Network] = a
	}
	return c
}

func (c *AssetCatalog) Lookup(currency, chain string) (AssetConfig, bool) {
	if c == nil {
		return AssetConfig{}, false
	}
	a, ok := c.assets[currency+"-"+chain]
	return a, ok
}

func (c *AssetCatalog) All() []AssetConfig {
	if c == nil {
		return nil
	}
	out := make([]AssetConfig, 0, len(c.assets))
	for _, a := range c.assets {
		out = append(out, a)
	}
	return out
}
