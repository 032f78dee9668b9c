// Package gin gates gin routes behind x402 payments priced per request.
package gin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "github.com/tipmd/x402-tipping"
	"github.com/tipmd/x402-tipping/facilitator"
	"github.com/tipmd/x402-tipping/mechanisms/evm"
	"github.com/tipmd/x402-tipping/mechanisms/svm"
)

// ContextKeySettlement holds the *x402.SettleResponse of a paid request.
const ContextKeySettlement = "x402.settlement"

// ErrAlreadySettled is the 402 reason for a replayed payment header.
const ErrAlreadySettled = "payment_already_settled"

// PriceFunc returns the atomic amount to charge for the request. An error
// aborts the request with 400.
type PriceFunc func(c *gin.Context) (*big.Int, error)

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	OutputSchema      json.RawMessage
	Resource          string
	ResourceRootURL   string
	Extra             map[string]any
	Facilitator       facilitator.Facilitator
	Cache             *x402.SettlementCache
	Logger            *zap.Logger
	Now               func() time.Time
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithDescription sets the requirements description.
func WithDescription(description string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Description = description
	}
}

// WithMimeType sets the mime type of the paid resource.
func WithMimeType(mimeType string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// WithMaxTimeoutSeconds sets how long a signed payment stays valid.
func WithMaxTimeoutSeconds(maxTimeoutSeconds int) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MaxTimeoutSeconds = maxTimeoutSeconds
	}
}

// WithOutputSchema attaches a response schema to the requirements.
func WithOutputSchema(outputSchema json.RawMessage) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.OutputSchema = outputSchema
	}
}

// WithResource fixes the resource URL instead of deriving it from the path.
func WithResource(resource string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Resource = resource
	}
}

// WithResourceRootURL prefixes the request path to form the resource URL.
func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

// WithExtra merges scheme specific fields (such as the Solana feePayer)
// into the requirements.
func WithExtra(extra map[string]any) Options {
	return func(options *PaymentMiddlewareOptions) {
		if options.Extra == nil {
			options.Extra = map[string]any{}
		}
		for k, v := range extra {
			options.Extra[k] = v
		}
	}
}

// WithFacilitator sets the facilitator used to verify and settle.
func WithFacilitator(f facilitator.Facilitator) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Facilitator = f
	}
}

// WithSettlementCache shares a settlement cache between routes.
func WithSettlementCache(cache *x402.SettlementCache) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Logger = log
	}
}

// requirementsTemplate returns asset and default extra for network.
func requirementsTemplate(network string) (asset string, extra map[string]any, err error) {
	if evm.IsValidNetwork(network) {
		config, _ := evm.GetNetworkConfig(network)
		return config.DefaultAsset.Address, map[string]any{
			"name":    config.DefaultAsset.Name,
			"version": config.DefaultAsset.Version,
		}, nil
	}
	if svm.IsValidNetwork(network) {
		config, _ := svm.GetNetworkConfig(network)
		return config.USDCMint.String(), map[string]any{}, nil
	}
	return "", nil, fmt.Errorf("%w: %s", x402.ErrUnsupportedNetwork, network)
}

// PaymentMiddleware charges price(c) USDC atomic units on network, paid to
// payTo. The payment is settled before the handler runs; the handler only
// runs for a payment settled by this request.
func PaymentMiddleware(network, payTo string, price PriceFunc, opts ...Options) gin.HandlerFunc {
	options := &PaymentMiddlewareOptions{
		MaxTimeoutSeconds: 60,
		MimeType:          "application/json",
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Facilitator == nil {
		options.Facilitator = facilitator.NewClient(nil)
	}
	if options.Cache == nil {
		options.Cache = x402.NewSettlementCache(10 * time.Minute)
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	log := options.Logger

	asset, defaultExtra, netErr := requirementsTemplate(network)

	return func(c *gin.Context) {
		if netErr != nil {
			log.Error("payment gate misconfigured", zap.Error(netErr))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       netErr.Error(),
				"x402Version": x402.X402Version,
			})
			return
		}

		amount, err := price(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resource := options.Resource
		if resource == "" {
			resource = options.ResourceRootURL + c.Request.URL.Path
		}

		extra := make(map[string]any, len(defaultExtra)+len(options.Extra))
		for k, v := range defaultExtra {
			extra[k] = v
		}
		for k, v := range options.Extra {
			extra[k] = v
		}

		requirements := x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           network,
			MaxAmountRequired: amount.String(),
			Resource:          resource,
			Description:       options.Description,
			MimeType:          options.MimeType,
			PayTo:             payTo,
			MaxTimeoutSeconds: options.MaxTimeoutSeconds,
			Asset:             asset,
			OutputSchema:      options.OutputSchema,
			Extra:             extra,
		}

		paymentRequired := func(reason string) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentRequired{
				X402Version: x402.X402Version,
				Error:       reason,
				Accepts:     []x402.PaymentRequirements{requirements},
			})
		}

		header := c.GetHeader(x402.HeaderPayment)
		payload, err := x402.DecodePaymentPayloadFromBase64(header)
		if err != nil {
			if isWebBrowser(c) {
				c.Abort()
				c.Data(http.StatusPaymentRequired, "text/html", []byte(paywallHTML(requirements)))
				return
			}
			if header != "" {
				log.Info("undecodable payment header", zap.Error(err))
			}
			paymentRequired("X-PAYMENT header is required")
			return
		}

		if evm.IsValidNetwork(network) {
			if pre := evm.PreVerify(payload, requirements, options.Now()); !pre.IsValid {
				log.Info("payment rejected before verification", zap.String("reason", pre.InvalidReason))
				paymentRequired(pre.InvalidReason)
				return
			}
		} else if payload.Network != network || payload.Scheme != x402.SchemeExact {
			paymentRequired("invalid_network")
			return
		}

		ctx := c.Request.Context()
		verify, err := options.Facilitator.Verify(ctx, payload, &requirements)
		if err != nil {
			log.Error("payment verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": x402.X402Version,
			})
			return
		}
		if !verify.IsValid {
			log.Info("invalid payment", zap.String("reason", verify.InvalidReason), zap.String("payer", verify.Payer))
			paymentRequired(verify.InvalidReason)
			return
		}

		key := x402.SettlementKey(header)
		settle, settled, err := options.Cache.Do(ctx, key, func(ctx context.Context) (*x402.SettleResponse, error) {
			return options.Facilitator.Settle(ctx, payload, &requirements)
		})
		switch {
		case err != nil:
			log.Error("settlement failed", zap.Error(err))
			paymentRequired(err.Error())
			return
		case settle == nil || !settle.Success:
			reason := "settlement failed"
			if settle != nil && settle.ErrorReason != "" {
				reason = settle.ErrorReason
			}
			log.Warn("settlement rejected", zap.String("reason", reason))
			paymentRequired(reason)
			return
		case !settled:
			log.Warn("replayed payment header", zap.String("transaction", settle.Transaction))
			paymentRequired(ErrAlreadySettled)
			return
		}

		if settle.Payer == "" {
			settle.Payer = verify.Payer
		}
		encoded, err := settle.EncodeToBase64String()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": x402.X402Version,
			})
			return
		}

		log.Info("payment settled",
			zap.String("network", settle.Network),
			zap.String("transaction", settle.Transaction),
			zap.String("payer", settle.Payer),
			zap.String("amount", requirements.MaxAmountRequired))

		c.Header(x402.HeaderPaymentResponse, encoded)
		c.Set(ContextKeySettlement, settle)
		c.Next()
	}
}

// SettlementFrom returns the settlement recorded by PaymentMiddleware.
func SettlementFrom(c *gin.Context) (*x402.SettleResponse, error) {
	v, ok := c.Get(ContextKeySettlement)
	if !ok {
		return nil, errors.New("x402: request was not paid")
	}
	settle, ok := v.(*x402.SettleResponse)
	if !ok {
		return nil, errors.New("x402: unexpected settlement type")
	}
	return settle, nil
}

func isWebBrowser(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html") &&
		strings.Contains(c.GetHeader("User-Agent"), "Mozilla")
}

func paywallHTML(r x402.PaymentRequirements) string {
	return fmt.Sprintf("<html><body><h1>Payment Required</h1><p>%s atomic USDC on %s to %s</p></body></html>",
		r.MaxAmountRequired, r.Network, r.PayTo)
}
