// Package errs registers the clearing house error taxonomy.
//
// Every error belongs to exactly one codespace. The codespace is the
// category callers branch on; the code inside it identifies the failure.
package errs

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
	"google.golang.org/grpc/codes"
)

// Category is the top-level classification of a clearing house error.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryConfiguration
	CategoryArithmetic
	CategoryOracle
	CategoryDomain
)

func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "CONFIGURATION"
	case CategoryArithmetic:
		return "ARITHMETIC"
	case CategoryOracle:
		return "ORACLE"
	case CategoryDomain:
		return "DOMAIN"
	default:
		return "UNKNOWN"
	}
}

const (
	CodespaceConfig = "config"
	CodespaceArith  = "arith"
	CodespaceOracle = "oracle"
	CodespaceDomain = "domain"
)

// ConfigurationError: invalid or inconsistent setup.
var (
	ErrInvalidMarginRatio              = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 2, codes.InvalidArgument, "invalid margin ratio")
	ErrInvalidFeeStructure             = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 3, codes.InvalidArgument, "invalid fee structure")
	ErrInvalidGuardRails               = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 4, codes.InvalidArgument, "invalid oracle guard rails")
	ErrInvalidLiquidationRatio         = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 5, codes.InvalidArgument, "invalid liquidation ratio")
	ErrMarketIndexOutOfRange           = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 6, codes.OutOfRange, "market index out of range")
	ErrMarketAlreadyInitialized        = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 7, codes.AlreadyExists, "market already initialized")
	ErrMarketNotInitialized            = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 8, codes.FailedPrecondition, "market not initialized")
	ErrInvalidInitialPeg               = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 9, codes.InvalidArgument, "invalid initial peg")
	ErrInvalidFundingPeriod            = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 10, codes.InvalidArgument, "invalid funding period")
	ErrHistoryAlreadyInitialized       = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 11, codes.AlreadyExists, "history already initialized")
	ErrOrderStateAlreadyInitialized    = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 12, codes.AlreadyExists, "order state already initialized")
	ErrHistoryNotInitialized           = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 13, codes.FailedPrecondition, "history not initialized")
	ErrInvalidHistoryRef               = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 14, codes.InvalidArgument, "invalid history reference")
	ErrInvalidCollateralVaultAuthority = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 15, codes.InvalidArgument, "clearing house not collateral vault owner")
	ErrInvalidInsuranceVaultAuthority  = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 16, codes.InvalidArgument, "clearing house not insurance vault owner")
	ErrUnauthorized                    = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 17, codes.PermissionDenied, "signer is not the admin")
	ErrStateAlreadyInitialized         = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 18, codes.AlreadyExists, "state already initialized")
	ErrOracleMismatch                  = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 19, codes.InvalidArgument, "oracle does not match market")
	ErrInvalidOracleSource             = errorsmod.RegisterWithGRPCCode(CodespaceConfig, 20, codes.InvalidArgument, "invalid oracle source")
)

// ArithmeticError: overflow, underflow, or an unrepresentable value.
var (
	ErrMathOverflow  = errorsmod.RegisterWithGRPCCode(CodespaceArith, 2, codes.OutOfRange, "math overflow")
	ErrDivideByZero  = errorsmod.RegisterWithGRPCCode(CodespaceArith, 3, codes.Internal, "division by zero")
	ErrNegativeValue = errorsmod.RegisterWithGRPCCode(CodespaceArith, 4, codes.OutOfRange, "negative value in unsigned field")
	ErrInvalidLayout = errorsmod.RegisterWithGRPCCode(CodespaceArith, 5, codes.DataLoss, "invalid encoded layout")
)

// OracleError: the oracle reading cannot be used.
var (
	ErrOracleStale          = errorsmod.RegisterWithGRPCCode(CodespaceOracle, 2, codes.Unavailable, "oracle price is stale")
	ErrOracleTooVolatile    = errorsmod.RegisterWithGRPCCode(CodespaceOracle, 3, codes.Unavailable, "oracle price too volatile")
	ErrOracleDiverged       = errorsmod.RegisterWithGRPCCode(CodespaceOracle, 4, codes.Unavailable, "mark price diverged from oracle")
	ErrInvalidOracleReading = errorsmod.RegisterWithGRPCCode(CodespaceOracle, 5, codes.InvalidArgument, "invalid oracle reading")
	ErrOracleUnavailable    = errorsmod.RegisterWithGRPCCode(CodespaceOracle, 6, codes.Unavailable, "oracle reading required")
)

// DomainViolation: an operation precondition failed.
var (
	ErrInvalidReserves         = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 2, codes.FailedPrecondition, "invalid amm reserves")
	ErrInsufficientReserves    = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 3, codes.FailedPrecondition, "trade would exhaust amm reserves")
	ErrTradeSizeTooSmall       = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 4, codes.InvalidArgument, "trade size too small")
	ErrTimestampRegression     = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 5, codes.InvalidArgument, "timestamp earlier than last update")
	ErrInvalidRepegRedundant   = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 6, codes.InvalidArgument, "repeg is redundant")
	ErrInvalidRepegDirection   = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 7, codes.InvalidArgument, "repeg moves mark away from oracle")
	ErrRepegCostExceedsFees    = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 8, codes.FailedPrecondition, "repeg cost exceeds collected fees")
	ErrSufficientCollateral    = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 9, codes.FailedPrecondition, "account has sufficient collateral")
	ErrCloseExceedsPosition    = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 10, codes.Internal, "close amount exceeds position")
	ErrExchangePaused          = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 11, codes.Unavailable, "exchange paused")
	ErrInsufficientCollateral  = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 12, codes.FailedPrecondition, "insufficient collateral")
	ErrUserMaxDeposit          = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 13, codes.FailedPrecondition, "deposit exceeds max deposit")
	ErrFeeWithdrawalTooLarge   = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 14, codes.FailedPrecondition, "fee withdrawal exceeds limit")
	ErrAdminControlsDisabled   = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 15, codes.FailedPrecondition, "admin does not control prices")
	ErrPositionMarketMismatch  = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 16, codes.InvalidArgument, "position belongs to another market")
	ErrInvalidAmount           = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 17, codes.InvalidArgument, "amount must be positive")
	ErrUnbalancedJournal       = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 18, codes.Internal, "journal batch does not balance")
	ErrInsufficientInsurance   = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 19, codes.FailedPrecondition, "insurance vault balance too low")
	ErrSequenceRegression      = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 20, codes.InvalidArgument, "oracle slot regression")
	ErrUnknownCommand          = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 21, codes.InvalidArgument, "unknown command")
	ErrLimitPriceExceeded      = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 22, codes.FailedPrecondition, "fill price beyond limit price")
	ErrSelfLiquidation         = errorsmod.RegisterWithGRPCCode(CodespaceDomain, 23, codes.InvalidArgument, "user cannot liquidate itself")
)

// CategoryOf classifies err by the codespace of the first registered error
// in its chain.
func CategoryOf(err error) Category {
	var reg *errorsmod.Error
	if !errors.As(err, &reg) {
		return CategoryUnknown
	}
	switch reg.Codespace() {
	case CodespaceConfig:
		return CategoryConfiguration
	case CodespaceArith:
		return CategoryArithmetic
	case CodespaceOracle:
		return CategoryOracle
	case CodespaceDomain:
		return CategoryDomain
	default:
		return CategoryUnknown
	}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool { return CategoryOf(err) == CategoryConfiguration }

// IsArithmetic reports whether err is an ArithmeticError.
func IsArithmetic(err error) bool { return CategoryOf(err) == CategoryArithmetic }

// IsOracle reports whether err is an OracleError.
func IsOracle(err error) bool { return CategoryOf(err) == CategoryOracle }

// IsDomain reports whether err is a DomainViolation.
func IsDomain(err error) bool { return CategoryOf(err) == CategoryDomain }
