// Package settlement is the payment-gated HTTP endpoint that receives an x402
// tip payment into a platform account and splits it between the recipient
// and the platform fee address.
package settlement

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	x402 "github.com/tipmd/x402-tipping"
	"github.com/tipmd/x402-tipping/facilitator"
	x402gin "github.com/tipmd/x402-tipping/gin"
	"github.com/tipmd/x402-tipping/internal/store"
	mevm "github.com/tipmd/x402-tipping/mechanisms/evm"
)

const serviceName = "x402-tipping-server"

// payoutTimeout bounds both transfer legs. Payouts run detached from the
// client connection because the payment has already settled.
const payoutTimeout = 2 * time.Minute

// IntentStore records settlement intents. *store.IntentRepo satisfies it.
type IntentStore interface {
	Create(ctx context.Context, intent *store.SettlementIntent) error
	UpdateLeg(ctx context.Context, legID uint64, status, txHash, errMsg string) error
	UpdateStatus(ctx context.Context, id, status string) error
}

type Options struct {
	Facilitator facilitator.Facilitator
	Intents     IntentStore
	// EVM serves /tip and /tip-base; nil disables them.
	EVM Account
	// Solana serves /tip-solana; nil disables it.
	Solana            Account
	SolanaFeePayer    string
	ResourceRootURL   string
	MaxTimeoutSeconds int
	Logger            *zap.Logger
}

type Server struct {
	opts          Options
	log           *zap.Logger
	cache         *x402.SettlementCache
	schema        *gojsonschema.Schema
	writeFailures atomic.Uint64
	now           func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Facilitator == nil {
		return nil, fmt.Errorf("settlement: facilitator is required")
	}
	if opts.Intents == nil {
		return nil, fmt.Errorf("settlement: intent store is required")
	}
	if opts.Solana != nil && opts.SolanaFeePayer == "" {
		return nil, fmt.Errorf("settlement: solana fee payer is required")
	}
	if opts.MaxTimeoutSeconds <= 0 {
		opts.MaxTimeoutSeconds = 60
	}
	schema, err := gojsonschema.NewSchema(tipSchema)
	if err != nil {
		return nil, fmt.Errorf("settlement: compile request schema: %w", err)
	}
	return &Server{
		opts:   opts,
		log:    opts.Logger,
		cache:  x402.NewSettlementCache(time.Duration(opts.MaxTimeoutSeconds) * time.Second * 10),
		schema: schema,
		now:    time.Now,
	}, nil
}

// WriteFailures counts intent or leg writes that failed after payment.
func (s *Server) WriteFailures() uint64 {
	return s.writeFailures.Load()
}

// Router builds the gin engine with every route whose account is configured.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(s.log.Named("http")))

	r.GET("/health", s.health)
	r.GET("/rates", s.rates)

	if acct := s.opts.EVM; acct != nil {
		handlers := s.tipChain(acct, "Ethereum")
		r.POST("/tip", handlers...)
		r.POST("/tip-base", handlers...)
	}
	if acct := s.opts.Solana; acct != nil {
		r.POST("/tip-solana", s.tipChain(acct, "Solana",
			x402gin.WithExtra(map[string]any{"feePayer": s.opts.SolanaFeePayer}))...)
	}
	return r
}

func (s *Server) tipChain(acct Account, addressKind string, extra ...x402gin.Options) []gin.HandlerFunc {
	opts := append([]x402gin.Options{
		x402gin.WithFacilitator(s.opts.Facilitator),
		x402gin.WithSettlementCache(s.cache),
		x402gin.WithResourceRootURL(s.opts.ResourceRootURL),
		x402gin.WithDescription("Tip distribution with a 4% platform fee"),
		x402gin.WithMaxTimeoutSeconds(s.opts.MaxTimeoutSeconds),
		x402gin.WithLogger(s.log.Named("x402")),
	}, extra...)
	return []gin.HandlerFunc{
		bindTip(s.schema, acct.ValidAddress, addressKind),
		x402gin.PaymentMiddleware(acct.Network(), acct.Address(), price, opts...),
		s.handleTip(acct),
	}
}

func (s *Server) health(c *gin.Context) {
	status := "not_initialized"
	if s.opts.EVM != nil {
		status = "initialized"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"service":         serviceName,
		"timestamp":       s.now().UTC().Format(time.RFC3339Nano),
		"platformAccount": status,
	})
}

func (s *Server) rates(c *gin.Context) {
	network := mevm.NetworkBase
	if s.opts.EVM != nil {
		network = s.opts.EVM.Network()
	}
	c.JSON(http.StatusOK, gin.H{
		"baseRate":       1000000,
		"currency":       "USDC",
		"network":        network,
		"recipientSplit": RecipientPercent,
		"platformFee":    PlatformFeePercent,
	})
}

func usdc(atomic uint64) float64 {
	return decimal.New(int64(atomic), -6).InexactFloat64()
}

func (s *Server) handleTip(acct Account) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := tipFrom(c)
		settle, err := x402gin.SettlementFrom(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process tip", "details": err.Error()})
			return
		}
		log := s.log.With(
			zap.String("request_id", c.GetString(CtxRequestID)),
			zap.String("network", acct.Network()),
			zap.String("recipient", req.RecipientUsername))

		total := req.TipAmount
		recipientAmount, platformAmount := Split(total)

		intentID, err := uuid.NewV7()
		if err != nil {
			intentID = uuid.New()
		}
		intent := &store.SettlementIntent{
			ID:                 intentID.String(),
			Network:            acct.Network(),
			Payer:              settle.Payer,
			PaymentTransaction: settle.Transaction,
			RecipientUsername:  req.RecipientUsername,
			RecipientAddress:   req.RecipientAddress,
			TotalAtomic:        int64(total),
			Status:             store.IntentPending,
			Legs: []store.SettlementLeg{
				{Kind: store.LegRecipient, Address: req.RecipientAddress, AmountAtomic: int64(recipientAmount), Status: store.LegPending},
				{Kind: store.LegPlatform, Address: acct.FeeAddress(), AmountAtomic: int64(platformAmount), Status: store.LegPending},
			},
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), payoutTimeout)
		defer cancel()

		if err := s.opts.Intents.Create(ctx, intent); err != nil {
			s.writeFailures.Add(1)
			log.Error("failed to record settlement intent", zap.String("intent_id", intent.ID), zap.Error(err))
		}

		hashes := make([]string, len(intent.Legs))
		for i := range intent.Legs {
			leg := &intent.Legs[i]
			hash, err := s.payLeg(ctx, acct, leg)
			if err != nil {
				status := store.IntentFailed
				if i > 0 {
					status = store.IntentPartial
				}
				s.setIntentStatus(ctx, log, intent.ID, status)
				log.Error("payout failed",
					zap.String("intent_id", intent.ID),
					zap.String("leg", leg.Kind),
					zap.String("intent_status", status),
					zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":    "Failed to process tip",
					"details":  err.Error(),
					"intentId": intent.ID,
				})
				return
			}
			hashes[i] = hash
		}
		s.setIntentStatus(ctx, log, intent.ID, store.IntentCompleted)

		if w, ok := acct.(balanceWatcher); ok {
			w.CheckBalance(ctx)
		}

		log.Info("tip distributed",
			zap.String("intent_id", intent.ID),
			zap.Uint64("total", total),
			zap.Uint64("recipient_amount", recipientAmount),
			zap.Uint64("platform_fee", platformAmount),
			zap.String("recipient_tx", hashes[0]),
			zap.String("platform_tx", hashes[1]))

		totalUSDC := decimal.New(int64(total), -6)
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"message":  fmt.Sprintf("Successfully processed payment of %s USDC to %s", totalUSDC.String(), req.RecipientUsername),
			"intentId": intent.ID,
			"recipient": gin.H{
				"username": req.RecipientUsername,
				"address":  req.RecipientAddress,
				"userId":   nil,
			},
			"transactions": gin.H{
				"recipient": hashes[0],
				"platform":  hashes[1],
			},
			"amounts": gin.H{
				"total":             usdc(total),
				"recipient":         usdc(recipientAmount),
				"platformFee":       usdc(platformAmount),
				"totalAtomic":       total,
				"recipientAtomic":   recipientAmount,
				"platformFeeAtomic": platformAmount,
			},
			"x402Protocol": gin.H{
				"paymentVerified":    true,
				"protocolVersion":    "x402",
				"paymentMethod":      "blockchain",
				"network":            acct.Network(),
				"paymentAmount":      fmt.Sprintf("$%s USDC", totalUSDC.StringFixed(2)),
				"paymentTransaction": settle.Transaction,
				"payer":              settle.Payer,
			},
		})
	}
}

// payLeg sends one leg and records its outcome. A zero leg is recorded as
// sent without a transaction.
func (s *Server) payLeg(ctx context.Context, acct Account, leg *store.SettlementLeg) (string, error) {
	var (
		hash string
		err  error
	)
	if leg.AmountAtomic > 0 {
		hash, err = acct.Transfer(ctx, leg.Address, uint64(leg.AmountAtomic))
	}
	if err != nil {
		leg.Status, leg.Error = store.LegFailed, err.Error()
	} else {
		leg.Status, leg.TxHash = store.LegSent, hash
	}
	if leg.ID != 0 {
		if werr := s.opts.Intents.UpdateLeg(ctx, leg.ID, leg.Status, leg.TxHash, leg.Error); werr != nil {
			s.writeFailures.Add(1)
			s.log.Error("failed to record settlement leg",
				zap.Uint64("leg_id", leg.ID), zap.String("status", leg.Status), zap.Error(werr))
		}
	}
	return hash, err
}

func (s *Server) setIntentStatus(ctx context.Context, log *zap.Logger, id, status string) {
	if err := s.opts.Intents.UpdateStatus(ctx, id, status); err != nil {
		s.writeFailures.Add(1)
		log.Error("failed to update settlement intent", zap.String("intent_id", id), zap.String("status", status), zap.Error(err))
	}
}
