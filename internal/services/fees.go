package services

import "math/big"

var perMille = big.NewInt(1000)

// CalculateFee applies the single graduated bracket: the first threshold units
// of lifetime volume are free, every unit past it is charged rate per mille.
// It returns the fee and what the seller nets. Inputs are not modified.
func CalculateFee(amount, volumeBefore *big.Int, ratePerMille uint32, threshold *big.Int) (fee, net *big.Int) {
	liable := new(big.Int)
	after := new(big.Int).Add(volumeBefore, amount)

	switch {
	case volumeBefore.Cmp(threshold) >= 0:
		liable.Set(amount)
	case after.Cmp(threshold) <= 0:
		// fully inside the grace volume
	default:
		liable.Sub(after, threshold)
	}

	fee = liable.Mul(liable, new(big.Int).SetUint64(uint64(ratePerMille)))
	fee.Quo(fee, perMille)
	net = new(big.Int).Sub(amount, fee)
	return fee, net
}
