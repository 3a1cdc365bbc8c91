package prime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

type withdrawalCreator interface {
	CreateWalletWithdrawal(ctx context.Context, request *transactions.CreateWalletWithdrawalRequest) (*transactions.CreateWalletWithdrawalResponse, error)
}

// Service submits approved withdrawals to Coinbase Prime. It satisfies
// withdrawal.Broadcaster; the returned activity id is recorded as the
// withdrawal's chain reference until the chain txid arrives.
type Service struct {
	transactionsSvc withdrawalCreator
	portfolioId     string
	catalog         *models.AssetCatalog
}

func NewService(ctx context.Context, cfg models.PrimeConfig, catalog *models.AssetCatalog) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(&credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, httpClient)

	portfolioId := cfg.PortfolioId
	if portfolioId == "" {
		zap.L().Info("Finding default portfolio")
		portfolioId, err = findDefaultPortfolio(ctx, portfolios.NewPortfoliosService(restClient))
		if err != nil {
			return nil, err
		}
	}
	zap.L().Info("Using Prime portfolio", zap.String("portfolio_id", portfolioId))

	return &Service{
		transactionsSvc: transactions.NewTransactionsService(restClient),
		portfolioId:     portfolioId,
		catalog:         catalog,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func findDefaultPortfolio(ctx context.Context, svc portfolios.PortfoliosService) (string, error) {
	response, err := svc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", fmt.Errorf("unable to list portfolios: %w", err)
	}
	for _, p := range response.Portfolios {
		if p.Name == "Default Portfolio" {
			return p.Id, nil
		}
	}
	return "", fmt.Errorf("default portfolio not found")
}

// Broadcast creates a blockchain withdrawal for the net amount. The
// withdrawal id is the idempotency key, so a retried broadcast cannot send
// twice.
func (s *Service) Broadcast(ctx context.Context, w models.Withdrawal) (string, error) {
	request, err := s.withdrawalRequest(w)
	if err != nil {
		return "", err
	}

	zap.L().Info("Creating withdrawal via Prime API",
		zap.String("withdrawal_id", w.Id),
		zap.String("wallet_id", request.SourceWalletId),
		zap.String("symbol", request.Symbol),
		zap.String("amount", request.Amount),
		zap.String("destination", w.Address))

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("withdrawal_id", w.Id),
			zap.String("wallet_id", request.SourceWalletId),
			zap.Error(err))
		return "", fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal created successfully",
		zap.String("withdrawal_id", w.Id),
		zap.String("activity_id", response.ActivityId))
	return response.ActivityId, nil
}

func (s *Service) withdrawalRequest(w models.Withdrawal) (*transactions.CreateWalletWithdrawalRequest, error) {
	asset, ok := s.catalog.Lookup(w.Currency, w.Chain)
	if !ok || asset.PrimeWalletId == "" {
		return nil, fmt.Errorf("%w: no Prime wallet configured for %s on %s", store.ErrInvalidInput, w.Currency, w.Chain)
	}

	blockchainAddr := &model.BlockchainAddress{
		Address: w.Address,
	}
	if network := networkDetails(w.Chain); network != nil {
		blockchainAddr.Network = network
	}

	return &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       s.portfolioId,
		SourceWalletId:    asset.PrimeWalletId,
		Amount:            w.ActualAmount.String(),
		IdempotencyKey:    w.Id,
		Symbol:            w.Currency,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	}, nil
}

// networkDetails splits "ethereum-mainnet" into id and type. A chain without
// a type suffix leaves the network to Prime's default for the symbol.
func networkDetails(chain string) *model.NetworkDetails {
	id, networkType, ok := strings.Cut(chain, "-")
	if !ok || id == "" || networkType == "" {
		return nil
	}
	return &model.NetworkDetails{Id: id, Type: networkType}
}
