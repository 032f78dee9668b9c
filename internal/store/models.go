package store

import "time"

// User is a tip.md account. Rows are written by the signup flow; this
// service only reads them.
type User struct {
	ID                   int64     `gorm:"primaryKey;column:id" json:"id"`
	LegacyID             *int64    `gorm:"column:legacy_id;index" json:"legacyId,omitempty"`
	Username             string    `gorm:"column:username;type:varchar(64);uniqueIndex;not null" json:"username"`
	EthereumAddress      string    `gorm:"column:ethereum_address;type:varchar(64)" json:"ethereumAddress,omitempty"`
	SolanaAddress        string    `gorm:"column:solana_address;type:varchar(64)" json:"solanaAddress,omitempty"`
	EthereumSplitAddress string    `gorm:"column:ethereum_split_address;type:varchar(64)" json:"ethereumSplitAddress,omitempty"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// Wallet holds custodial key material for one owner id. Addresses are never
// stored; they are derived from the keys.
type Wallet struct {
	OwnerID          string    `gorm:"primaryKey;column:owner_id;type:varchar(64)"`
	Mnemonic         string    `gorm:"column:mnemonic;type:text"`
	EVMPrivateKey    string    `gorm:"column:evm_private_key;type:varchar(80)"`
	SolanaPrivateKey string    `gorm:"column:solana_private_key;type:varchar(128)"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	LastUsedAt       time.Time `gorm:"column:last_used_at"`
}

// Tip is an append-only ledger entry for a settled tip.
type Tip struct {
	ID                      string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	UserID                  *int64    `gorm:"column:user_id;index" json:"userId"`
	IntentID                string    `gorm:"column:intent_id;type:varchar(36);index" json:"intentId,omitempty"`
	Amount                  string    `gorm:"column:amount;type:varchar(32);not null" json:"amount"`
	USDValue                string    `gorm:"column:usd_value;type:varchar(32)" json:"usdValue"`
	PlatformFee             string    `gorm:"column:platform_fee;type:varchar(32)" json:"platformFee"`
	PlatformFeePercentage   string    `gorm:"column:platform_fee_percentage;type:varchar(8)" json:"platformFeePercentage"`
	Blockchain              string    `gorm:"column:blockchain;type:varchar(32)" json:"blockchain"`
	Token                   string    `gorm:"column:token;type:varchar(16)" json:"token"`
	TransactionHash         string    `gorm:"column:transaction_hash;type:varchar(128);index" json:"transactionHash"`
	PlatformTransactionHash string    `gorm:"column:platform_transaction_hash;type:varchar(128)" json:"platformTransactionHash,omitempty"`
	Message                 string    `gorm:"column:message;type:text" json:"message,omitempty"`
	SenderName              string    `gorm:"column:sender_name;type:varchar(128)" json:"senderName,omitempty"`
	Status                  string    `gorm:"column:status;type:varchar(16)" json:"status"`
	CreatedAt               time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// Intent statuses.
const (
	IntentPending   = "pending"
	IntentCompleted = "completed"
	IntentPartial   = "partial"
	IntentFailed    = "failed"
)

// Leg kinds and statuses.
const (
	LegRecipient = "recipient"
	LegPlatform  = "platform"

	LegPending = "pending"
	LegSent    = "sent"
	LegFailed  = "failed"
)

// SettlementIntent is written before any payout transfer is sent, so a
// partially paid tip is always visible for reconciliation.
type SettlementIntent struct {
	ID                 string          `gorm:"primaryKey;column:id;type:varchar(36)"`
	Network            string          `gorm:"column:network;type:varchar(32)"`
	Payer              string          `gorm:"column:payer;type:varchar(64)"`
	PaymentTransaction string          `gorm:"column:payment_transaction;type:varchar(128)"`
	RecipientUsername  string          `gorm:"column:recipient_username;type:varchar(64)"`
	RecipientAddress   string          `gorm:"column:recipient_address;type:varchar(64)"`
	TotalAtomic        int64           `gorm:"column:total_atomic"`
	Status             string          `gorm:"column:status;type:varchar(16);index"`
	Legs               []SettlementLeg `gorm:"foreignKey:IntentID"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// SettlementLeg is one payout transfer of an intent.
type SettlementLeg struct {
	ID           uint64    `gorm:"primaryKey;column:id;autoIncrement"`
	IntentID     string    `gorm:"column:intent_id;type:varchar(36);index"`
	Kind         string    `gorm:"column:kind;type:varchar(16)"`
	Address      string    `gorm:"column:address;type:varchar(64)"`
	AmountAtomic int64     `gorm:"column:amount_atomic"`
	Status       string    `gorm:"column:status;type:varchar(16)"`
	TxHash       string    `gorm:"column:tx_hash;type:varchar(128)"`
	Error        string    `gorm:"column:error;type:text"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
