// Package economy implements the credit economy over the ledger: derived
// account balances, payment intents with fee math, the weighted-median
// price consensus, treasury custody policies and staged rollouts.
package economy

// ComputeIntentFee splits an amount into fee and net by basis points.
// feeSats = floor(amount * bps / 10000); net = amount - fee. A zero amount
// yields zero fee and net; 10000 bps consumes the whole amount.
func ComputeIntentFee(amountSats, feeBps int64) (feeSats, netSats int64) {
	feeSats = amountSats * feeBps / 10000
	return feeSats, amountSats - feeSats
}
