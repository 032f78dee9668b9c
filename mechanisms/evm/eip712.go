package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/tipmd/x402-tipping"
)

// TransferWithAuthorizationTypes are the EIP-712 types of EIP-3009.
var TransferWithAuthorizationTypes = map[string][]TypedDataField{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// HashTypedData computes keccak256("\x19\x01" ‖ domainSeparator ‖ structHash).
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]any,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// AuthorizationMessage builds the EIP-712 message map for auth.
func AuthorizationMessage(auth x402.ExactEvmAuthorization) (map[string]any, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", auth.ValidBefore)
	}
	nonceBytes, err := HexToBytes(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonceBytes) != 32 {
		return nil, fmt.Errorf("invalid nonce length: %d", len(nonceBytes))
	}

	return map[string]any{
		"from":        common.HexToAddress(auth.From).Hex(),
		"to":          common.HexToAddress(auth.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}, nil
}

// HashEIP3009Authorization hashes a TransferWithAuthorization for asset on chainID.
func HashEIP3009Authorization(auth x402.ExactEvmAuthorization, chainID *big.Int, asset AssetInfo) ([]byte, error) {
	message, err := AuthorizationMessage(auth)
	if err != nil {
		return nil, err
	}
	domain := TypedDataDomain{
		Name:              asset.Name,
		Version:           asset.Version,
		ChainID:           chainID,
		VerifyingContract: asset.Address,
	}
	return HashTypedData(domain, TransferWithAuthorizationTypes, "TransferWithAuthorization", message)
}

// RecoverAuthorizationSigner returns the address that produced signature over
// the authorization digest.
func RecoverAuthorizationSigner(auth x402.ExactEvmAuthorization, signature []byte, chainID *big.Int, asset AssetInfo) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("invalid signature length: %d", len(signature))
	}
	digest, err := HashEIP3009Authorization(auth, chainID, asset)
	if err != nil {
		return "", err
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
