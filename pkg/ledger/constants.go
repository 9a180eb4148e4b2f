package ledger

const (
	operationDeposit           = "deposit"
	operationWithdraw          = "withdraw"
	operationPayInterest       = "pay_interest"
	operationEmergencyWithdraw = "emergency_withdraw"
	operationFundReserve       = "fund_reserve"
	operationUpdateCreditScore = "update_credit_score"
	operationSuspend           = "suspend"
	operationResume            = "resume"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// SecondsPerDay sizes a day bucket.
	SecondsPerDay int64 = 86400
	// NativeDecimals is the precision of the native asset's smallest unit.
	NativeDecimals int32 = 18

	basisPointsDenominator int64 = 10000
	daysPerYear            int64 = 365

	metadataKeyRequested = "requested"
	metadataKeyDays      = "days"
	metadataKeyRateBps   = "rate_bps"
)
