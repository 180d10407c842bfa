// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package feeestimator suggests dynamic-fee parameters for payment
// transactions from the ledger's recent fee history.
package feeestimator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/log"
)

// Speed selects how aggressively a transaction bids for inclusion
type Speed string

const (
	Slow    Speed = "slow"
	Average Speed = "average"
	Fast    Speed = "fast"
	Instant Speed = "instant"
)

// ErrUnknownSpeed is returned for speeds other than the four above
var ErrUnknownSpeed = errors.New("unknown fee speed")

// ParseSpeed parses a speed name
func ParseSpeed(name string) (Speed, error) {
	switch s := Speed(name); s {
	case Slow, Average, Fast, Instant:
		return s, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownSpeed, name)
}

// FeeHistoryReader is the ledger surface the estimator samples
type FeeHistoryReader interface {
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
}

// FeeEstimator tracks priority fees paid in recent blocks
type FeeEstimator struct {
	mu sync.RWMutex

	history    []*big.Int
	maxHistory int
	baseFee    *big.Int

	minTip *big.Int
	maxTip *big.Int

	slow    *big.Int
	average *big.Int
	fast    *big.Int
	instant *big.Int
}

// New creates a fee estimator bounding tips to [minTip, maxTip]. Nil
// bounds default to 1 and 500 gwei.
func New(minTip, maxTip *big.Int) *FeeEstimator {
	if minTip == nil {
		minTip = big.NewInt(1e9)
	}
	if maxTip == nil {
		maxTip = big.NewInt(500e9)
	}
	e := &FeeEstimator{
		maxHistory: 200,
		minTip:     minTip,
		maxTip:     maxTip,
		baseFee:    new(big.Int),
	}
	e.reset()
	return e
}

// Estimate is a snapshot of the suggested tips
type Estimate struct {
	Slow    *big.Int `json:"slow"`
	Average *big.Int `json:"average"`
	Fast    *big.Int `json:"fast"`
	Instant *big.Int `json:"instant"`
	BaseFee *big.Int `json:"baseFee"`
}

// Sync samples the median tip of the last blocks blocks and the base
// fee of the next block
func (e *FeeEstimator) Sync(ctx context.Context, r FeeHistoryReader, blocks uint64) error {
	history, err := r.FeeHistory(ctx, blocks, nil, []float64{50})
	if err != nil {
		return fmt.Errorf("fee history: %w", err)
	}
	var tips []*big.Int
	for _, rewards := range history.Reward {
		// Empty blocks report no rewards
		if len(rewards) == 0 || rewards[0] == nil {
			continue
		}
		tips = append(tips, rewards[0])
	}
	e.AddSamples(tips)

	if n := len(history.BaseFee); n > 0 && history.BaseFee[n-1] != nil {
		e.mu.Lock()
		e.baseFee = new(big.Int).Set(history.BaseFee[n-1])
		e.mu.Unlock()
	}
	log.Debug("Sampled fee history", "blocks", blocks, "tips", len(tips), "oldest", history.OldestBlock)
	return nil
}

// AddSamples adds observed tips
func (e *FeeEstimator) AddSamples(tips []*big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, tip := range tips {
		e.history = append(e.history, new(big.Int).Set(tip))
	}
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
	e.recalculate()
}

func (e *FeeEstimator) recalculate() {
	// Too few samples keep the defaults
	if len(e.history) < 5 {
		return
	}
	sorted := make([]*big.Int, len(e.history))
	copy(sorted, e.history)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	percentile := func(p int) *big.Int {
		idx := len(sorted) * p / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return e.clamp(sorted[idx])
	}
	e.slow = percentile(25)
	e.average = percentile(50)
	e.fast = percentile(75)
	e.instant = percentile(95)
}

func (e *FeeEstimator) clamp(tip *big.Int) *big.Int {
	if tip.Cmp(e.minTip) < 0 {
		return new(big.Int).Set(e.minTip)
	}
	if tip.Cmp(e.maxTip) > 0 {
		return new(big.Int).Set(e.maxTip)
	}
	return new(big.Int).Set(tip)
}

// GetEstimate returns the current suggestions
func (e *FeeEstimator) GetEstimate() *Estimate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return &Estimate{
		Slow:    new(big.Int).Set(e.slow),
		Average: new(big.Int).Set(e.average),
		Fast:    new(big.Int).Set(e.fast),
		Instant: new(big.Int).Set(e.instant),
		BaseFee: new(big.Int).Set(e.baseFee),
	}
}

// Fees returns the tip and fee cap for speed. The cap leaves room for
// the base fee to double.
func (e *FeeEstimator) Fees(speed Speed) (tip, feeCap *big.Int, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch speed {
	case Slow:
		tip = e.slow
	case Average:
		tip = e.average
	case Fast:
		tip = e.fast
	case Instant:
		tip = e.instant
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownSpeed, speed)
	}
	tip = new(big.Int).Set(tip)
	feeCap = new(big.Int).Lsh(e.baseFee, 1)
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

// EstimateConfirmationTime estimates the blocks until a transaction
// paying tip is included
func (e *FeeEstimator) EstimateConfirmationTime(tip *big.Int) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch {
	case tip.Cmp(e.instant) >= 0:
		return 1
	case tip.Cmp(e.fast) >= 0:
		return 3
	case tip.Cmp(e.average) >= 0:
		return 10
	case tip.Cmp(e.slow) >= 0:
		return 30
	}
	return 100
}

// Reset drops the samples
func (e *FeeEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

func (e *FeeEstimator) reset() {
	e.history = make([]*big.Int, 0, e.maxHistory)
	e.slow = new(big.Int).Set(e.minTip)
	e.average = new(big.Int).Mul(e.minTip, big.NewInt(2))
	e.fast = new(big.Int).Mul(e.minTip, big.NewInt(5))
	e.instant = new(big.Int).Mul(e.minTip, big.NewInt(10))
}

// GetHistorySize returns the number of samples held
func (e *FeeEstimator) GetHistorySize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.history)
}
