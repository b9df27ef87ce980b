package ledger

const (
	operationBet                = "bet"
	operationPayout             = "payout"
	operationRefund             = "refund"
	operationFailRound          = "fail_round"
	operationDeposit            = "deposit"
	operationReward             = "reward"
	operationFee                = "fee"
	operationTransfer           = "transfer"
	operationRequestWithdrawal  = "withdrawal_request"
	operationCompleteWithdrawal = "withdrawal_complete"
	operationRejectWithdrawal   = "withdrawal_reject"

	operationStatusOK        = "ok"
	operationStatusDuplicate = "duplicate"
	operationStatusError     = "error"

	errorOperationBalance = "balance"
	errorOperationJournal = "journal"
	errorOperationRound   = "round"
	errorOperationEvent   = "event"
	errorOperationService = "service"

	errorSubjectBalance = "balance"
	errorSubjectEntry   = "entry"
	errorSubjectOrder   = "order"
	errorSubjectEvent   = "event"
	errorSubjectGame    = "game"

	errorCodeCreate   = "create"
	errorCodeUpdate   = "update"
	errorCodeGet      = "get"
	errorCodeInsert   = "insert"
	errorCodeLink     = "link"
	errorCodeNegative = "negative"
	errorCodeClosed   = "closed"
	errorCodeDisabled = "disabled"
	errorCodeInvalid  = "invalid"
	errorCodeOverflow = "overflow"

	referenceDelimiter = ":"
	emptyDetailJSON    = "{}"
	initialVersion     = 1
)

// Statuses reported in OperationLog.Status.
const (
	OperationStatusOK        = operationStatusOK
	OperationStatusDuplicate = operationStatusDuplicate
	OperationStatusError     = operationStatusError
)
