// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bandit implements the continuous-action pricing bandit: an action
// strategy sampling a price multiplier, an experience buffer, and a policy
// that optimizes the strategy's parameters to maximize observed reward.
// Gradients of the scalar loss are closed-form, so no tensor framework is
// involved.
package bandit

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrBufferInconsistent indicates mismatched action/reward/log-prob
	// buffer lengths. This is an invariant violation, fatal to the loop.
	ErrBufferInconsistent = errors.New("action, reward and log-prob buffers must be the same size")

	// ErrNumericalOverflow indicates the scaled-action mapping or a policy
	// update left the representable range. A policy this far out is
	// miscalibrated; the loop must terminate.
	ErrNumericalOverflow = errors.New("numerical overflow")
)

const (
	defaultBufferMaxSize = 10
	defaultEpsClip       = 0.1
	defaultPPOIterations = 10
	defaultEntropyCoeff  = 1e-1
)

// Agent composes an action strategy with an update policy and an optimizer
// borrowing the strategy's parameters.
type Agent struct {
	action ActionStrategy
	policy Policy
	opt    Optimizer

	bufferMaxSize int
	// record is false for the no-update policy, which keeps no experience.
	record bool

	actions  []float64
	rewards  []float64
	logProbs []float64
}

// GetAction samples the strategy, records the action with its sampling-time
// log-prob, and returns the externally applied multiplier.
func (a *Agent) GetAction() (float64, error) {
	action, logProb := a.action.Sample()
	scaled, err := a.action.Scale(action)
	if err != nil {
		return 0, err
	}
	if a.record {
		a.actions = append(a.actions, action)
		a.logProbs = append(a.logProbs, logProb)
	}
	return scaled, nil
}

// AddReward records the reward aligned with the most recent action.
func (a *Agent) AddReward(reward float64) {
	if a.record {
		a.rewards = append(a.rewards, reward)
	}
}

// UpdatePolicy validates and truncates the buffer, then runs one policy
// update if the buffer is full. ok is false when no update happened.
func (a *Agent) UpdatePolicy() (loss float64, ok bool, err error) {
	if len(a.actions) != len(a.rewards) || len(a.actions) != len(a.logProbs) {
		return 0, false, errors.Wrapf(
			ErrBufferInconsistent,
			"%d actions, %d rewards, %d log-probs",
			len(a.actions), len(a.rewards), len(a.logProbs),
		)
	}
	a.truncateBuffer()
	if !a.record || len(a.actions) < a.bufferMaxSize {
		return 0, false, nil
	}

	loss, ok = a.policy.Update(a)
	if ok && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
		return 0, false, errors.Wrap(ErrNumericalOverflow, "policy update produced a non-finite loss")
	}
	return loss, ok, nil
}

// ScaledMean is the externally viewable mean of the current policy.
func (a *Agent) ScaledMean() float64 {
	return a.action.ScaledMean()
}

// Stddev of the current policy.
func (a *Agent) Stddev() float64 {
	return a.action.Stddev()
}

func (a *Agent) truncateBuffer() {
	for len(a.actions) > a.bufferMaxSize {
		a.actions = a.actions[1:]
		a.rewards = a.rewards[1:]
		a.logProbs = a.logProbs[1:]
	}
}

func (a *Agent) clearBuffer() {
	a.actions = a.actions[:0]
	a.rewards = a.rewards[:0]
	a.logProbs = a.logProbs[:0]
}

// Config selects and parameterizes the agent's strategy, policy and
// optimizer by factory key. Zero values select the documented defaults.
type Config struct {
	Policy    PolicyConfig
	Action    ActionConfig
	Optimizer OptimizerConfig
}

// PolicyConfig selects the update policy.
type PolicyConfig struct {
	// Type is one of "vpg", "ppo", "rolling_ppo", "no_update".
	Type          string
	BufferMaxSize int
	EpsClip       float64
	PPOIterations int
	EntropyCoeff  float64
}

// ActionConfig selects the action strategy. Initial values are in the
// external multiplier space.
type ActionConfig struct {
	// Type is one of "scaled_gaussian", "gaussian", "deterministic".
	Type          string
	InitialMean   float64
	InitialStddev float64
	// InitialValue is the fixed multiplier of the deterministic strategy.
	InitialValue float64
}

// OptimizerConfig selects the optimizer for learning policies.
type OptimizerConfig struct {
	// Type is one of "adam", "adamw".
	Type        string
	LR          float64
	WeightDecay float64
}

// New resolves the factory keys and assembles an Agent. Unknown keys and a
// learning policy paired with a parameterless action are configuration
// errors.
func New(cfg Config) (*Agent, error) {
	action, err := newAction(cfg.Action)
	if err != nil {
		return nil, err
	}

	bufferMaxSize := cfg.Policy.BufferMaxSize
	if bufferMaxSize <= 0 {
		bufferMaxSize = defaultBufferMaxSize
	}

	policy, learns, err := newPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		action:        action,
		policy:        policy,
		bufferMaxSize: bufferMaxSize,
		record:        learns,
	}

	if learns {
		if action.Params() == nil {
			return nil, errors.Errorf("policy %q requires a trainable action strategy, %q has no parameters", cfg.Policy.Type, cfg.Action.Type)
		}
		a.opt, err = newOptimizer(cfg.Optimizer)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newAction(cfg ActionConfig) (ActionStrategy, error) {
	switch cfg.Type {
	case "scaled_gaussian":
		return NewScaledGaussianAction(cfg.InitialMean, cfg.InitialStddev)
	case "gaussian":
		return NewGaussianAction(cfg.InitialMean, cfg.InitialStddev)
	case "deterministic":
		return NewDeterministicAction(cfg.InitialValue), nil
	}
	return nil, errors.Errorf("unknown action strategy type %q", cfg.Type)
}

func newPolicy(cfg PolicyConfig) (Policy, bool, error) {
	epsClip := cfg.EpsClip
	if epsClip == 0 {
		epsClip = defaultEpsClip
	}
	iterations := cfg.PPOIterations
	if iterations <= 0 {
		iterations = defaultPPOIterations
	}
	entropyCoeff := cfg.EntropyCoeff
	if entropyCoeff == 0 {
		entropyCoeff = defaultEntropyCoeff
	}

	switch cfg.Type {
	case "vpg":
		return VanillaPolicyGradient{}, true, nil
	case "ppo":
		return &PPO{EpsClip: epsClip, Iterations: iterations, EntropyCoeff: entropyCoeff}, true, nil
	case "rolling_ppo":
		return &PPO{EpsClip: epsClip, Iterations: iterations, EntropyCoeff: entropyCoeff, Rolling: true}, true, nil
	case "no_update":
		return NoUpdatePolicy{}, false, nil
	}
	return nil, false, errors.Errorf("unknown policy type %q", cfg.Type)
}

func newOptimizer(cfg OptimizerConfig) (Optimizer, error) {
	lr := cfg.LR
	if lr == 0 {
		lr = defaultLearningRate
	}

	switch cfg.Type {
	case "adam":
		return NewAdam(lr), nil
	case "adamw":
		weightDecay := cfg.WeightDecay
		if weightDecay == 0 {
			weightDecay = defaultWeightDecay
		}
		return NewAdamW(lr, weightDecay), nil
	}
	return nil, errors.Errorf("unknown optimizer type %q", cfg.Type)
}
