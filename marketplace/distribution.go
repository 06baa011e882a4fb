package marketplace

// Distribution is the integer split of an escrowed price. The three parts
// always sum to the price; rounding remainders stay with the seller.
type Distribution struct {
	Fee         int64
	Commission  int64
	SellerShare int64
}

// computeDistribution takes the platform fee first, then the creator
// commission off the original price, and leaves the remainder to the
// seller. Fee is zero when no recipient is configured; commission is zero
// when the purchase has no creator.
func computeDistribution(price int64, feeBps, commissionBps int, hasFeeRecipient, hasCreator bool) Distribution {
	var d Distribution
	if hasFeeRecipient {
		d.Fee = price * int64(feeBps) / BpsDenominator
	}
	if hasCreator {
		d.Commission = price * int64(commissionBps) / BpsDenominator
	}
	d.SellerShare = price - d.Fee - d.Commission
	return d
}
