package auction

import "github.com/mohammednour-ai/MatEx-sub001/internal/domain"

// ResolveWinner picks the highest bid. Equal amounts go to the earliest
// CreatedAt, then to the lowest Seq. ok is false when bids is empty.
func ResolveWinner(bids []domain.Bid) (winner domain.Bid, ok bool) {
	for _, b := range bids {
		if !ok || outranks(b, winner) {
			winner, ok = b, true
		}
	}
	return winner, ok
}

func outranks(a, b domain.Bid) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
