package ledger

type settlement struct {
	released    int64
	charged     int64
	refunded    int64
	uncollected int64
	balance     int64
	held        int64
}

// settle computes the wallet after releasing held credits against the actual cost.
// Neither balance nor held_balance may go negative.
func settle(balance, heldBalance, held, actual int64) settlement {
	released := min(held, heldBalance)
	fromEscrow := min(actual, released)
	refund := released - fromEscrow
	overage := actual - fromEscrow
	overageCharged := min(overage, balance+refund)
	return settlement{
		released:    released,
		charged:     fromEscrow + overageCharged,
		refunded:    refund,
		uncollected: overage - overageCharged,
		balance:     balance + refund - overageCharged,
		held:        heldBalance - released,
	}
}
