// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package bandit

import "math"

var _ Policy = (*NoUpdatePolicy)(nil)
var _ Policy = (*VanillaPolicyGradient)(nil)
var _ Policy = (*PPO)(nil)

// Policy improves the action strategy's parameters from the agent's buffered
// experience. Update is only called on a full buffer with consistent arity.
type Policy interface {
	Update(a *Agent) (loss float64, ok bool)
}

// NoUpdatePolicy never learns.
type NoUpdatePolicy struct{}

// Update does nothing.
func (NoUpdatePolicy) Update(a *Agent) (float64, bool) {
	return 0, false
}

// VanillaPolicyGradient is a single REINFORCE step over the buffer, with a
// penalty that keeps the stddev from collapsing.
type VanillaPolicyGradient struct{}

// Update applies one policy-gradient step and clears the buffer.
func (VanillaPolicyGradient) Update(a *Agent) (float64, bool) {
	adv := standardize(a.rewards)
	params := a.action.Params()
	zeroGrads(params)

	n := float64(len(a.actions))
	var loss float64
	for i, action := range a.actions {
		loss += -a.action.LogProb(action) * adv[i]
		for j, g := range a.action.LogProbGrad(action) {
			params[j].Grad -= adv[i] * g / n
		}
	}
	loss /= n

	// exp(-logStddev - 5) keeps the distribution from collapsing to a point.
	logStddev := params[1]
	penalty := math.Exp(-logStddev.Value - 5)
	loss += penalty
	logStddev.Grad -= penalty

	a.opt.Step(params)
	a.clearBuffer()
	return loss, true
}

// PPO is a clipped-ratio proximal policy update with an entropy bonus and a
// soft pull toward the initial distribution. The rolling variant reuses the
// log-probs recorded at sampling time as the importance baseline and keeps
// the buffer as a FIFO window instead of clearing it.
type PPO struct {
	EpsClip      float64
	Iterations   int
	EntropyCoeff float64
	Rolling      bool
}

// Update runs the configured number of clipped-gradient iterations and
// returns the last iteration's loss.
func (p *PPO) Update(a *Agent) (float64, bool) {
	adv := standardize(a.rewards)

	var logpOld []float64
	if p.Rolling {
		logpOld = append([]float64{}, a.logProbs...)
	} else {
		logpOld = make([]float64, len(a.actions))
		for i, action := range a.actions {
			logpOld[i] = a.action.LogProb(action)
		}
	}

	var loss float64
	for it := 0; it < p.Iterations; it++ {
		loss = p.step(a, adv, logpOld)
	}

	if !p.Rolling {
		a.clearBuffer()
	}
	return loss, true
}

func (p *PPO) step(a *Agent, adv, logpOld []float64) float64 {
	params := a.action.Params()
	zeroGrads(params)

	n := float64(len(a.actions))
	var ppoLoss float64
	for i, action := range a.actions {
		ratio := math.Exp(a.action.LogProb(action) - logpOld[i])
		unclipped := ratio * adv[i]
		clipped := clamp(ratio, 1-p.EpsClip, 1+p.EpsClip) * adv[i]

		// The min picks the more pessimistic surrogate; the gradient flows
		// through the picked branch, and a saturated clip blocks it.
		if unclipped <= clipped {
			ppoLoss += -unclipped
		} else {
			ppoLoss += -clipped
			if ratio <= 1-p.EpsClip || ratio >= 1+p.EpsClip {
				continue
			}
		}
		for j, g := range a.action.LogProbGrad(action) {
			params[j].Grad -= adv[i] * ratio * g / n
		}
	}
	ppoLoss /= n

	loss := ppoLoss - p.EntropyCoeff*a.action.Entropy()
	for j, g := range a.action.EntropyGrad() {
		params[j].Grad -= p.EntropyCoeff * g
	}

	pullLoss, pullGrad := a.action.InitPull()
	loss += pullLoss
	for j, g := range pullGrad {
		params[j].Grad += g
	}

	a.opt.Step(params)
	return loss
}

// standardize centers and scales rewards into advantages, using the sample
// standard deviation. A single reward is used as-is.
func standardize(rewards []float64) []float64 {
	out := append([]float64{}, rewards...)
	if len(rewards) <= 1 {
		return out
	}

	var mean float64
	for _, r := range rewards {
		mean += r
	}
	mean /= float64(len(rewards))

	var variance float64
	for _, r := range rewards {
		variance += (r - mean) * (r - mean)
	}
	stddev := math.Sqrt(variance / float64(len(rewards)-1))

	for i := range out {
		out[i] = (out[i] - mean) / (stddev + 1e-10)
	}
	return out
}

func zeroGrads(params []*Param) {
	for _, p := range params {
		p.Grad = 0
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
