package game

// Error codes surfaced to clients. Every rejected action carries one of
// these plus the round's current phase so clients can reconcile their
// local view.
const (
	CodeRoundNotAccepting  = "ROUND_NOT_ACCEPTING"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeCashoutTooLate     = "CASHOUT_TOO_LATE"
	CodeWagerNotFound      = "WAGER_NOT_FOUND"
	CodeAlreadySettled     = "ALREADY_SETTLED"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeLedgerUnavailable  = "LEDGER_UNAVAILABLE"
	CodeInvalidRequest     = "INVALID_REQUEST"
)
