package tipping

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tipmd/x402-tipping/internal/directory"
)

// Wallet types a recipient can receive on.
const (
	WalletTypeEthereum = "ethereum"
	WalletTypeSolana   = "solana"
)

// WalletTypesResult is one of three shapes: WalletTypes set, UserNotFound
// set, or NoWalletsConfigured set.
type WalletTypesResult struct {
	Username            string   `json:"username"`
	WalletTypes         []string `json:"walletTypes,omitempty"`
	UserNotFound        bool     `json:"userNotFound,omitempty"`
	SuggestSignup       bool     `json:"suggestSignup,omitempty"`
	SignupURL           string   `json:"signupUrl,omitempty"`
	NoWalletsConfigured bool     `json:"noWalletsConfigured,omitempty"`
	SuggestSetup        bool     `json:"suggestSetup,omitempty"`
	DashboardURL        string   `json:"dashboardUrl,omitempty"`
}

// GetWalletTypes reports which networks username can be tipped on.
func (s *Service) GetWalletTypes(ctx context.Context, username string) *WalletTypesResult {
	u, err := s.opts.Users.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, directory.ErrUserNotFound) {
			s.log.Warn("user lookup failed", zap.String("username", username), zap.Error(err))
		}
		return &WalletTypesResult{
			Username:      username,
			UserNotFound:  true,
			SuggestSignup: true,
			SignupURL:     s.opts.SignupURL,
		}
	}

	var types []string
	if u.EthereumAddress != "" {
		types = append(types, WalletTypeEthereum)
	}
	if u.SolanaAddress != "" {
		types = append(types, WalletTypeSolana)
	}
	if len(types) == 0 {
		return &WalletTypesResult{
			Username:            u.Username,
			NoWalletsConfigured: true,
			SuggestSetup:        true,
			DashboardURL:        s.opts.DashboardURL,
		}
	}
	return &WalletTypesResult{Username: u.Username, WalletTypes: types}
}
