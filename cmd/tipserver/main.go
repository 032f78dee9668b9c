package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/facilitator"
	"github.com/tipmd/x402-tipping/internal/chain"
	"github.com/tipmd/x402-tipping/internal/config"
	"github.com/tipmd/x402-tipping/internal/directory"
	"github.com/tipmd/x402-tipping/internal/settlement"
	"github.com/tipmd/x402-tipping/internal/store"
	"github.com/tipmd/x402-tipping/internal/tipping"
	"github.com/tipmd/x402-tipping/internal/wallet"
	"github.com/tipmd/x402-tipping/mcp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	st, err := store.Open(cfg.DatabaseDSN, log.Named("store"))
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	// User cache
	var cache directory.Cache
	if cfg.RedisURL != "" {
		rdb, err := directory.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		cache = directory.NewRedisCache(rdb, cfg.UserCacheTTL, log.Named("user_cache"))
	} else {
		cache = directory.NewMemoryCache(cfg.UserCacheTTL)
	}
	users := directory.New(st.Users, cache, log.Named("directory"))

	// Chains
	eth, err := ethclient.DialContext(ctx, cfg.EVMRPCURL)
	if err != nil {
		log.Fatal("failed to connect to EVM RPC", zap.String("url", cfg.EVMRPCURL), zap.Error(err))
	}
	defer eth.Close()
	usdc, err := chain.NewUSDC(eth, cfg.EVMNetwork, log.Named("usdc"))
	if err != nil {
		log.Fatal("failed to set up EVM USDC", zap.Error(err))
	}

	solClient := rpc.New(cfg.SolanaRPCURL)
	spl, err := chain.NewSPLUSDC(solClient, cfg.SolanaNetwork, log.Named("spl_usdc"))
	if err != nil {
		log.Fatal("failed to set up Solana USDC", zap.Error(err))
	}

	// Facilitator
	facCfg := &facilitator.Config{URL: cfg.FacilitatorURL}
	if cfg.FacilitatorToken != "" {
		facCfg.CreateAuthHeaders = facilitator.BearerAuth(cfg.FacilitatorToken)
	}
	fac := facilitator.NewClient(facCfg)

	// Settlement endpoint
	settleOpts := settlement.Options{
		Facilitator:       fac,
		Intents:           st.Intents,
		SolanaFeePayer:    cfg.SolanaFeePayer,
		ResourceRootURL:   cfg.SettlementBaseURL,
		MaxTimeoutSeconds: cfg.PaymentMaxTimeout,
		Logger:            log.Named("settlement"),
	}
	if cfg.EVMEnabled() {
		key, err := wallet.ParseEVMKey(cfg.PlatformEVMPrivateKey)
		if err != nil {
			log.Fatal("invalid PLATFORM_EVM_PRIVATE_KEY", zap.Error(err))
		}
		acct, err := settlement.NewEVMAccount(usdc, key, cfg.PlatformEVMFeeAddress, cfg.LowETHBalance, log.Named("evm_account"))
		if err != nil {
			log.Fatal("failed to set up EVM platform account", zap.Error(err))
		}
		settleOpts.EVM = acct
		log.Info("EVM platform account ready", zap.String("address", acct.Address()), zap.String("network", acct.Network()))
	}

	var solanaToken tipping.SolanaToken
	solanaPlatform := cfg.PlatformSolanaFeeAddress
	if cfg.SolanaEnabled() {
		key, err := wallet.ParseSolanaKey(cfg.PlatformSolanaPrivateKey)
		if err != nil {
			log.Fatal("invalid PLATFORM_SOLANA_PRIVATE_KEY", zap.Error(err))
		}
		acct, err := settlement.NewSolanaAccount(spl, key, cfg.PlatformSolanaFeeAddress)
		if err != nil {
			log.Fatal("failed to set up Solana platform account", zap.Error(err))
		}
		if settleOpts.SolanaFeePayer == "" {
			feePayer, err := settlement.DiscoverFeePayer(ctx, fac, acct.Network())
			if err != nil {
				log.Fatal("SOLANA_FEE_PAYER is not set and discovery failed", zap.Error(err))
			}
			settleOpts.SolanaFeePayer = feePayer
		}
		settleOpts.Solana = acct
		solanaToken = spl
		if solanaPlatform == "" {
			solanaPlatform = acct.Address()
		}
		log.Info("Solana platform account ready", zap.String("address", acct.Address()),
			zap.String("fee_payer", settleOpts.SolanaFeePayer))
	}

	settleSrv, err := settlement.NewServer(settleOpts)
	if err != nil {
		log.Fatal("failed to build settlement server", zap.Error(err))
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	settleHTTP := &http.Server{
		Addr:              ":" + cfg.SettlementPort,
		Handler:           settleSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Tools
	svc := tipping.New(tipping.Options{
		Users:                users,
		Wallets:              wallet.NewStore(st.Wallets, log.Named("wallet")),
		Ledger:               st.Tips,
		EVM:                  usdc,
		Solana:               solanaToken,
		SettlementBaseURL:    cfg.SettlementBaseURL,
		SettlementTimeout:    cfg.PaymentTimeout,
		Testnet:              cfg.Testnet(),
		SignupURL:            cfg.SignupURL,
		DashboardURL:         cfg.DashboardURL,
		SolanaPlatformWallet: solanaPlatform,
		Logger:               log.Named("tipping"),
	})
	mcpSrv := mcp.NewServer(svc, mcp.Options{Logger: log})

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting settlement server", zap.String("addr", settleHTTP.Addr))
		if err := settleHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("settlement server: %w", err)
		}
	}()

	e := mcp.NewHTTPServer(mcpSrv, log)
	if cfg.MCPTransport == "stdio" {
		go func() {
			if err := mcpSrv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("mcp stdio: %w", err)
				return
			}
			stop()
		}()
	} else {
		go func() {
			addr := ":" + cfg.MCPPort
			log.Info("starting MCP server", zap.String("addr", addr), zap.String("endpoint", "/mcp"))
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("mcp server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := settleHTTP.Shutdown(shutdownCtx); err != nil {
		log.Warn("settlement server shutdown", zap.Error(err))
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("mcp server shutdown", zap.Error(err))
	}
	log.Info("stopped",
		zap.Uint64("ledger_write_failures", svc.PersistenceFailures()),
		zap.Uint64("intent_write_failures", settleSrv.WriteFailures()),
	)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
