package enums

// LedgerTransactionType enumerates the journal row kinds for a wallet.
type LedgerTransactionType string

const (
	LedgerHold     LedgerTransactionType = "hold"
	LedgerFinalize LedgerTransactionType = "finalize"
	LedgerRefund   LedgerTransactionType = "refund"
	LedgerPurchase LedgerTransactionType = "purchase"
	LedgerGrant    LedgerTransactionType = "grant"
)

var ledgerTransactionTypes = closed[LedgerTransactionType]{LedgerHold, LedgerFinalize, LedgerRefund, LedgerPurchase, LedgerGrant}

func (t LedgerTransactionType) IsValid() bool { return ledgerTransactionTypes.has(t) }

// IsTopUp reports whether the type only ever adds to the available balance.
func (t LedgerTransactionType) IsTopUp() bool {
	return t == LedgerGrant || t == LedgerPurchase || t == LedgerRefund
}

func ParseLedgerTransactionType(value string) (LedgerTransactionType, error) {
	return ledgerTransactionTypes.parse("ledger transaction type", value)
}

// CreditHoldStatus tracks whether a reservation has been settled.
type CreditHoldStatus string

const (
	CreditHoldHeld    CreditHoldStatus = "held"
	CreditHoldSettled CreditHoldStatus = "settled"
)

// CreditReferenceType names the record that owns a credit hold.
type CreditReferenceType string

const (
	ReferenceJob           CreditReferenceType = "job"
	ReferenceScheduledPost CreditReferenceType = "scheduled_post"
	ReferenceAutomationRun CreditReferenceType = "automation_run"
	ReferenceExternal      CreditReferenceType = "external"
)

var creditReferenceTypes = closed[CreditReferenceType]{ReferenceJob, ReferenceScheduledPost, ReferenceAutomationRun, ReferenceExternal}

func (r CreditReferenceType) IsValid() bool { return creditReferenceTypes.has(r) }
