package gin_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/tipmd/x402-tipping"
	x402gin "github.com/tipmd/x402-tipping/gin"
	"github.com/tipmd/x402-tipping/mechanisms/evm"
	evmsigner "github.com/tipmd/x402-tipping/signers/evm"
)

const platform = "0x1111111111111111111111111111111111111111"

type fakeFacilitator struct {
	verify    x402.VerifyResponse
	verifyErr error
	settle    x402.SettleResponse
	settleErr error
	settles   atomic.Int32
}

func (f *fakeFacilitator) Verify(context.Context, *x402.PaymentPayload, *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	v := f.verify
	return &v, nil
}

func (f *fakeFacilitator) Settle(context.Context, *x402.PaymentPayload, *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.settles.Add(1)
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	s := f.settle
	return &s, nil
}

func (f *fakeFacilitator) Supported(context.Context) (*x402.SupportedResponse, error) {
	return &x402.SupportedResponse{}, nil
}

func okFacilitator() *fakeFacilitator {
	return &fakeFacilitator{
		verify: x402.VerifyResponse{IsValid: true, Payer: "0xpayer"},
		settle: x402.SettleResponse{Success: true, Transaction: "0xsettled", Network: "base-sepolia"},
	}
}

func fixedPrice(amount int64) x402gin.PriceFunc {
	return func(*gin.Context) (*big.Int, error) { return big.NewInt(amount), nil }
}

func newRouter(f *fakeFacilitator, price x402gin.PriceFunc, handled *atomic.Int32) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/tip", x402gin.PaymentMiddleware("base-sepolia", platform, price,
		x402gin.WithFacilitator(f),
		x402gin.WithResourceRootURL("http://localhost:5001"),
		x402gin.WithDescription("tip"),
	), func(c *gin.Context) {
		handled.Add(1)
		settle, err := x402gin.SettlementFrom(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": settle.Transaction, "payer": settle.Payer})
	})
	return r
}

func paymentHeader(t *testing.T, amount string) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := evm.NewExactClient(evmsigner.NewClientSigner(key))

	payload, err := client.CreatePaymentPayload(context.Background(), x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: amount,
		PayTo:             platform,
		MaxTimeoutSeconds: 60,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	})
	require.NoError(t, err)
	header, err := payload.EncodeToBase64String()
	require.NoError(t, err)
	return header
}

func post(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/tip", strings.NewReader(`{}`))
	if header != "" {
		req.Header.Set(x402.HeaderPayment, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPaymentMiddleware_Challenge(t *testing.T) {
	var handled atomic.Int32
	r := newRouter(okFacilitator(), fixedPrice(1_000_000), &handled)

	w := post(r, "")
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body x402.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.X402Version)
	assert.Equal(t, "X-PAYMENT header is required", body.Error)
	require.Len(t, body.Accepts, 1)

	req := body.Accepts[0]
	assert.Equal(t, "exact", req.Scheme)
	assert.Equal(t, "base-sepolia", req.Network)
	assert.Equal(t, "1000000", req.MaxAmountRequired)
	assert.Equal(t, platform, req.PayTo)
	assert.Equal(t, "http://localhost:5001/tip", req.Resource)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", req.Asset)
	assert.Equal(t, "USDC", req.ExtraString("name"))
	assert.Equal(t, int32(0), handled.Load())
}

func TestPaymentMiddleware_PriceError(t *testing.T) {
	var handled atomic.Int32
	price := func(*gin.Context) (*big.Int, error) { return nil, errors.New("tipAmount is required") }
	r := newRouter(okFacilitator(), price, &handled)

	w := post(r, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"tipAmount is required"}`, w.Body.String())
}

func TestPaymentMiddleware_SettlesBeforeHandler(t *testing.T) {
	var handled atomic.Int32
	f := okFacilitator()
	r := newRouter(f, fixedPrice(1_000_000), &handled)

	w := post(r, paymentHeader(t, "1000000"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"transaction":"0xsettled","payer":"0xpayer"}`, w.Body.String())
	assert.Equal(t, int32(1), f.settles.Load())
	assert.Equal(t, int32(1), handled.Load())

	settle, err := x402.DecodeSettleResponseFromBase64(w.Header().Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.Equal(t, "0xsettled", settle.Transaction)
}

func TestPaymentMiddleware_ReplayedHeader(t *testing.T) {
	var handled atomic.Int32
	f := okFacilitator()
	r := newRouter(f, fixedPrice(1_000_000), &handled)
	header := paymentHeader(t, "1000000")

	require.Equal(t, http.StatusOK, post(r, header).Code)

	w := post(r, header)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), x402gin.ErrAlreadySettled)
	assert.Equal(t, int32(1), f.settles.Load())
	assert.Equal(t, int32(1), handled.Load())
}

func TestPaymentMiddleware_Underpaid(t *testing.T) {
	var handled atomic.Int32
	f := okFacilitator()
	r := newRouter(f, fixedPrice(2_000_000), &handled)

	w := post(r, paymentHeader(t, "1000000"))
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_exact_evm_payload_authorization_value")
	assert.Equal(t, int32(0), f.settles.Load())
}

func TestPaymentMiddleware_FacilitatorOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fakeFacilitator)
		status int
		reason string
	}{
		{
			name:   "verify invalid",
			mutate: func(f *fakeFacilitator) { f.verify = x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"} },
			status: http.StatusPaymentRequired,
			reason: "insufficient_funds",
		},
		{
			name:   "verify error",
			mutate: func(f *fakeFacilitator) { f.verifyErr = errors.New("facilitator down") },
			status: http.StatusInternalServerError,
			reason: "facilitator down",
		},
		{
			name:   "settle error",
			mutate: func(f *fakeFacilitator) { f.settleErr = errors.New("broadcast failed") },
			status: http.StatusPaymentRequired,
			reason: "broadcast failed",
		},
		{
			name: "settle unsuccessful",
			mutate: func(f *fakeFacilitator) {
				f.settle = x402.SettleResponse{Success: false, ErrorReason: "invalid_transaction_state"}
			},
			status: http.StatusPaymentRequired,
			reason: "invalid_transaction_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handled atomic.Int32
			f := okFacilitator()
			tt.mutate(f)
			r := newRouter(f, fixedPrice(1_000_000), &handled)

			w := post(r, paymentHeader(t, "1000000"))
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.reason)
			assert.Equal(t, int32(0), handled.Load())
		})
	}
}

func TestPaymentMiddleware_BrowserPaywall(t *testing.T) {
	var handled atomic.Int32
	r := newRouter(okFacilitator(), fixedPrice(5), &handled)

	req := httptest.NewRequest(http.MethodPost, "/tip", nil)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "Payment Required")
}

func TestPaymentMiddleware_UnsupportedNetwork(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/tip", x402gin.PaymentMiddleware("polygon", platform, fixedPrice(1)), func(c *gin.Context) {})

	w := post(r, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPaymentMiddleware_SolanaExtra(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/tip-solana", x402gin.PaymentMiddleware("solana-devnet", "PlatformPubkey", fixedPrice(10),
		x402gin.WithFacilitator(okFacilitator()),
		x402gin.WithExtra(map[string]any{"feePayer": "FeePayerPubkey"}),
	), func(c *gin.Context) {})

	req := httptest.NewRequest(http.MethodPost, "/tip-solana", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var body x402.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FeePayerPubkey", body.Accepts[0].ExtraString("feePayer"))
	assert.Equal(t, "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", body.Accepts[0].Asset)
}
