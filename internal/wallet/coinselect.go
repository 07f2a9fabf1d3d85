package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Coin selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = errors.New("no utxos available")
)

// CoinSelection holds the result of coin selection.
type CoinSelection struct {
	Inputs []types.UTXO
	Total  float64
	Change float64
}

// SelectCoins chooses UTXOs to fund a transaction of the given target
// amount. It tries two strategies and returns whichever leaves less
// change: the smallest single UTXO that covers the target, and a
// largest-first accumulation.
func SelectCoins(utxos []types.UTXO, target float64) (*CoinSelection, error) {
	if len(utxos) == 0 {
		return nil, ErrNoUTXOs
	}
	if target <= 0 {
		return nil, fmt.Errorf("target must be positive")
	}

	candidates := make([]types.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Amount > 0 {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Amount < candidates[j].Amount
	})

	var single *CoinSelection
	for _, u := range candidates {
		if u.Amount >= target {
			single = &CoinSelection{
				Inputs: []types.UTXO{u},
				Total:  u.Amount,
				Change: u.Amount - target,
			}
			break
		}
	}

	var accum *CoinSelection
	var selected []types.UTXO
	var total float64
	for i := len(candidates) - 1; i >= 0; i-- {
		selected = append(selected, candidates[i])
		total += candidates[i].Amount
		if total >= target {
			accum = &CoinSelection{
				Inputs: append([]types.UTXO(nil), selected...),
				Total:  total,
				Change: total - target,
			}
			break
		}
	}

	switch {
	case single != nil && accum != nil:
		if single.Change <= accum.Change {
			return single, nil
		}
		return accum, nil
	case single != nil:
		return single, nil
	case accum != nil:
		return accum, nil
	default:
		return nil, fmt.Errorf("%w: have %.8f, need %.8f", ErrInsufficientFunds, totalValue(candidates), target)
	}
}

func totalValue(utxos []types.UTXO) float64 {
	var total float64
	for _, u := range utxos {
		total += u.Amount
	}
	return total
}
