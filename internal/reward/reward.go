// Package reward computes the randomized cashback granted on a settled
// payment. Pure computation: no state, no I/O.
package reward

import "math/rand"

// Reward percentage bounds, inclusive.
const (
	MinPercent = 1
	MaxPercent = 10
)

// Draw is the randomized cashback result for one settlement.
type Draw struct {
	Percent int   `json:"percent"`
	Coins   int64 `json:"coins"`
}

// Source yields a uniform integer in [0, n).
type Source interface {
	Intn(n int) int
}

// Engine draws reward percentages from its randomness source.
type Engine struct {
	src Source
}

// NewEngine creates a reward engine. Pass a seeded rand for deterministic
// tests; New uses the shared math/rand source.
func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// New creates a reward engine backed by the default randomness source.
func New() *Engine {
	return &Engine{src: defaultSource{}}
}

type defaultSource struct{}

func (defaultSource) Intn(n int) int { return rand.Intn(n) }

// Compute draws a uniform percentage in [1, 10] and converts it to coins:
// floor(amountGross × percent / 100).
//
// maxCap and commissionRateBps are accepted but deliberately unused: the
// draw has never been bounded by the merchant's configured cap or
// commission, and product wants that behavior kept until reviewed.
func (e *Engine) Compute(maxCap, commissionRateBps, amountGross int64) Draw {
	_ = maxCap
	_ = commissionRateBps

	if amountGross <= 0 {
		return Draw{}
	}

	percent := e.src.Intn(MaxPercent-MinPercent+1) + MinPercent
	return Draw{
		Percent: percent,
		Coins:   amountGross * int64(percent) / 100,
	}
}
