package payment

// Intent is the quote returned before a payment is initiated: how many coins
// will be redeemed and what remains payable through the gateway.
type Intent struct {
	CoinsToRedeem     int64 `json:"coins_to_redeem"`
	NetPayable        int64 `json:"net_payable"`
	CoinBalance       int64 `json:"coin_balance"`
	MinPayableWarning bool  `json:"min_payable_warning"`
}

// CalculateIntent computes the redemption split for a requested amount
// against the customer's current coin balance.
//
// Redemption is capped at the balance and at the requested amount. A fully
// coin-funded payment is never quoted: the gateway needs a non-zero charge to
// verify the payment method, so when coins would cover the whole amount one
// unit is held back and MinPayableWarning is set.
func CalculateIntent(requestedAmount, balanceAvailable int64, useCoins bool) Intent {
	intent := Intent{
		NetPayable:  requestedAmount,
		CoinBalance: balanceAvailable,
	}

	if !useCoins || requestedAmount <= 0 || balanceAvailable <= 0 {
		return intent
	}

	coins := balanceAvailable
	if coins > requestedAmount {
		coins = requestedAmount
	}
	if coins == requestedAmount {
		coins--
		intent.MinPayableWarning = true
	}

	intent.CoinsToRedeem = coins
	intent.NetPayable = requestedAmount - coins
	return intent
}
