package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals between wei and ether.
const EtherDecimals = 18

// ToWei converts an ether amount to wei, truncating anything below one wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(EtherDecimals).BigInt()
}

// FromWei converts a wei amount to ether.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}
