package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeMarket
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota

	// System sub-types
	SubTypeInsuranceVault
	SubTypeSocializedLoss

	// Market sub-types, one set per market index
	SubTypeFeePool
	SubTypeFundingPool
	SubTypeAMMPnL

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for balance tracking. All balances are in
// the collateral mint at QUOTE_PRECISION, so no asset dimension is needed.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // user id, or the market index for market accounts
	SubType  AccountSubType
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
	}
}

// UserCollateral is the collateral account of a user.
func UserCollateral(userID uuid.UUID) AccountKey {
	return NewUserAccountKey(userID, SubTypeCollateral)
}

// NewSystemAccountKey creates a key for exchange-wide accounts
func NewSystemAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: subType}
}

// InsuranceVault is the account backing the insurance vault.
func InsuranceVault() AccountKey {
	return NewSystemAccountKey(SubTypeInsuranceVault)
}

// NewMarketAccountKey creates a key for a per-market system account.
func NewMarketAccountKey(marketIndex uint16, subType AccountSubType) AccountKey {
	var entityID [16]byte
	binary.LittleEndian.PutUint16(entityID[:2], marketIndex)
	return AccountKey{
		Scope:    AccountScopeMarket,
		EntityID: entityID,
		SubType:  subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// MarketIndex returns the market of a market-scoped key.
func (k AccountKey) MarketIndex() (uint16, bool) {
	if k.Scope != AccountScopeMarket {
		return 0, false
	}
	return binary.LittleEndian.Uint16(k.EntityID[:2]), true
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s", uid.String(), k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", k.subTypeName())
	case AccountScopeMarket:
		idx, _ := k.MarketIndex()
		return fmt.Sprintf("market:%d:%s", idx, k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeInsuranceVault:
		return "insurance_vault"
	case SubTypeSocializedLoss:
		return "socialized_loss"
	case SubTypeFeePool:
		return "fee_pool"
	case SubTypeFundingPool:
		return "funding_pool"
	case SubTypeAMMPnL:
		return "amm_pnl"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

func (k AccountKey) String() string {
	return k.AccountPath()
}
