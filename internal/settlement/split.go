package settlement

// Platform fee in percent of the tip. The recipient receives the rest.
const (
	PlatformFeePercent = 4
	RecipientPercent   = 100 - PlatformFeePercent
)

// Split divides total atomic units. The fee is floored, so rounding always
// favours the recipient and recipient+fee == total.
func Split(total uint64) (recipient, fee uint64) {
	fee = total/100*PlatformFeePercent + total%100*PlatformFeePercent/100
	return total - fee, fee
}
