package settlement

import (
	"encoding/json"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
)

const ctxTipRequest = "tip_request"

const errRequiredFields = "recipientUsername, recipientAddress, and tipAmount are required"

// maxBodyBytes bounds a tip request body.
const maxBodyBytes = 16 << 10

// TipRequest is the body of POST /tip, /tip-base and /tip-solana.
// TipAmount is in atomic USDC.
type TipRequest struct {
	RecipientUsername string `json:"recipientUsername"`
	RecipientAddress  string `json:"recipientAddress"`
	TipAmount         uint64 `json:"tipAmount"`
	Message           string `json:"message,omitempty"`
	SenderName        string `json:"senderName,omitempty"`
}

const tipRequestSchema = `{
	"type": "object",
	"required": ["recipientUsername", "recipientAddress", "tipAmount"],
	"properties": {
		"recipientUsername": {"type": "string", "minLength": 1},
		"recipientAddress": {"type": "string", "minLength": 1},
		"tipAmount": {"type": "integer", "minimum": 1, "maximum": 9223372036854775807},
		"message": {"type": "string", "maxLength": 500},
		"senderName": {"type": "string", "maxLength": 128}
	}
}`

var tipSchema = gojsonschema.NewStringLoader(tipRequestSchema)

// bindTip validates the body against the tip schema, checks the address
// with validAddress and stores the request for the gate and the handler.
func bindTip(schema *gojsonschema.Schema, validAddress func(string) bool, addressKind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
		if err != nil || !result.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errRequiredFields})
			return
		}

		var req TipRequest
		if err := json.Unmarshal(body, &req); err != nil || req.TipAmount > math.MaxInt64 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errRequiredFields})
			return
		}
		req.RecipientAddress = strings.TrimSpace(req.RecipientAddress)
		if !validAddress(req.RecipientAddress) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "recipientAddress must be a valid " + addressKind + " address",
			})
			return
		}

		c.Set(ctxTipRequest, &req)
		c.Next()
	}
}

func tipFrom(c *gin.Context) *TipRequest {
	return c.MustGet(ctxTipRequest).(*TipRequest)
}

// price charges exactly the tip amount.
func price(c *gin.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(tipFrom(c).TipAmount), nil
}
