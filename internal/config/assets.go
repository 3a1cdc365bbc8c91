package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"asset-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type assetEntry struct {
	models.AssetConfig `yaml:",inline"`
	WithdrawalFee      string `yaml:"withdrawal_fee"`
	MinWithdrawal      string `yaml:"min_withdrawal"`
}

type assetsFile struct {
	Assets []assetEntry `yaml:"assets"`
}

// LoadAssetCatalog reads the YAML asset catalog. A missing file yields an
// empty catalog so every asset falls back to the configured defaults.
func LoadAssetCatalog(assetsFile string) (*models.AssetCatalog, error) {
	assetsPath := assetsFile
	if !filepath.IsAbs(assetsFile) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("Asset catalog not found, using defaults", zap.String("path", assetsPath))
		return models.NewAssetCatalog(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}

	assets, err := ParseAssetCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", assetsFile, err)
	}
	zap.L().Info("Asset catalog loaded", zap.String("path", assetsPath), zap.Int("assets", len(assets)))
	return models.NewAssetCatalog(assets), nil
}

func ParseAssetCatalog(data []byte) ([]models.AssetConfig, error) {
	var file assetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	assets := make([]models.AssetConfig, 0, len(file.Assets))
	for i, entry := range file.Assets {
		asset := entry.AssetConfig
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Network == "" {
			return nil, fmt.Errorf("asset at index %d missing network", i)
		}
		if asset.Decimals < 0 || asset.RequiredConfirmations < 0 {
			return nil, fmt.Errorf("asset %s-%s has negative decimals or confirmations", asset.Symbol, asset.Network)
		}

		var err error
		if asset.WithdrawalFee, err = parseAmount(entry.WithdrawalFee); err != nil {
			return nil, fmt.Errorf("asset %s-%s withdrawal_fee: %w", asset.Symbol, asset.Network, err)
		}
		if asset.MinWithdrawal, err = parseAmount(entry.MinWithdrawal); err != nil {
			return nil, fmt.Errorf("asset %s-%s min_withdrawal: %w", asset.Symbol, asset.Network, err)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative, got %s", s)
	}
	return d, nil
}
