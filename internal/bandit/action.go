// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package bandit

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

var _ ActionStrategy = (*ScaledGaussianAction)(nil)
var _ ActionStrategy = (*GaussianAction)(nil)
var _ ActionStrategy = (*DeterministicAction)(nil)

// Param is a single trainable scalar. The action strategy owns its
// parameters; the optimizer only borrows them to apply gradient steps.
type Param struct {
	Value float64
	Grad  float64
}

// ActionStrategy represents the distribution the bandit samples its price
// multiplier from, together with the closed-form quantities a policy update
// needs. Gradient slices are aligned with Params() by index.
type ActionStrategy interface {
	// Sample draws an action in the strategy's internal space and returns it
	// with its log-density under the sampling distribution at this instant.
	Sample() (action float64, logProb float64)
	// Scale maps an internal action to the externally applied multiplier.
	Scale(action float64) (float64, error)
	// LogProb evaluates the current distribution's log-density at action.
	LogProb(action float64) float64
	// LogProbGrad is the gradient of LogProb with respect to Params().
	LogProbGrad(action float64) []float64
	// Entropy of the current distribution.
	Entropy() float64
	// EntropyGrad is the gradient of Entropy with respect to Params().
	EntropyGrad() []float64
	// InitPull is the soft pull toward the initial distribution: its loss
	// value and gradient. The pull acts on the raw, unclamped parameters.
	InitPull() (float64, []float64)
	// Params returns the trainable parameters, nil when there are none.
	Params() []*Param
	// ScaledMean is the external view of the distribution mean, after clamp.
	ScaledMean() float64
	// Stddev of the distribution in its internal space.
	Stddev() float64
}

const (
	// actionScale maps the internal log-space to the multiplier space.
	actionScale = 1e-6
	// scaledMeanMax clamps the distribution mean, in multiplier space.
	scaledMeanMax = 1e-1
	// initPullCoeff weighs the pull toward the initial distribution.
	initPullCoeff = 1e-1
)

// halfLog2PiE is the entropy of a unit normal.
var halfLog2PiE = 0.5 * (1 + math.Log(2*math.Pi))

func bidScale(x float64) (float64, error) {
	y := math.Exp(x) * actionScale
	if math.IsInf(y, 0) {
		return 0, errors.Wrapf(ErrNumericalOverflow, "exp(%g) overflows", x)
	}
	return y, nil
}

func inverseBidScale(x float64) float64 {
	return math.Log(x / actionScale)
}

func normalLogProb(x, mean, stddev float64) float64 {
	z := (x - mean) / stddev
	return -0.5*z*z - math.Log(stddev) - 0.5*math.Log(2*math.Pi)
}

// NewScaledGaussianAction returns the production action strategy: the
// multiplier is exp(N(mean, stddev)) · 1e-6, with both parameters kept in
// the internal log-space. Inputs are in the external multiplier space.
func NewScaledGaussianAction(initialMean, initialStddev float64) (*ScaledGaussianAction, error) {
	if initialMean <= 0 || initialStddev <= 0 {
		return nil, errors.Errorf("initial mean and stddev must be positive, got %g, %g", initialMean, initialStddev)
	}
	return &ScaledGaussianAction{
		mean:             &Param{Value: inverseBidScale(initialMean)},
		logStddev:        &Param{Value: inverseBidScale(initialStddev)},
		initialMean:      inverseBidScale(initialMean),
		initialLogStddev: inverseBidScale(initialStddev),
	}, nil
}

// ScaledGaussianAction samples in a log-space that is mapped to the
// multiplier space by Scale.
type ScaledGaussianAction struct {
	mean      *Param
	logStddev *Param

	initialMean      float64
	initialLogStddev float64
}

func (s *ScaledGaussianAction) clampedMean() float64 {
	return math.Min(s.mean.Value, inverseBidScale(scaledMeanMax))
}

func (s *ScaledGaussianAction) Sample() (float64, float64) {
	mean := s.clampedMean()
	stddev := math.Exp(s.logStddev.Value)
	action := mean + stddev*rand.NormFloat64()
	return action, normalLogProb(action, mean, stddev)
}

func (s *ScaledGaussianAction) Scale(action float64) (float64, error) {
	return bidScale(action)
}

func (s *ScaledGaussianAction) LogProb(action float64) float64 {
	return normalLogProb(action, s.clampedMean(), math.Exp(s.logStddev.Value))
}

func (s *ScaledGaussianAction) LogProbGrad(action float64) []float64 {
	mean := s.clampedMean()
	stddev := math.Exp(s.logStddev.Value)
	z := (action - mean) / stddev

	dMean := z / stddev
	if s.mean.Value > inverseBidScale(scaledMeanMax) {
		// Saturated clamp blocks the gradient.
		dMean = 0
	}
	dLogStddev := z*z - 1
	return []float64{dMean, dLogStddev}
}

func (s *ScaledGaussianAction) Entropy() float64 {
	return halfLog2PiE + s.logStddev.Value
}

func (s *ScaledGaussianAction) EntropyGrad() []float64 {
	return []float64{0, 1}
}

func (s *ScaledGaussianAction) InitPull() (float64, []float64) {
	loss := math.Abs(s.mean.Value-s.initialMean) * initPullCoeff
	grad := []float64{sign(s.mean.Value-s.initialMean) * initPullCoeff, 0}

	// The policy is free to tighten below the initial spread; only widening
	// beyond it is pulled back.
	if s.logStddev.Value > s.initialLogStddev {
		loss += (s.logStddev.Value - s.initialLogStddev) * initPullCoeff
		grad[1] = initPullCoeff
	}
	return loss, grad
}

func (s *ScaledGaussianAction) Params() []*Param {
	return []*Param{s.mean, s.logStddev}
}

func (s *ScaledGaussianAction) ScaledMean() float64 {
	// The clamp keeps this far from overflow.
	return math.Exp(s.clampedMean()) * actionScale
}

func (s *ScaledGaussianAction) Stddev() float64 {
	return math.Exp(s.logStddev.Value)
}

const (
	gaussianMeanMax   = 1e-1
	gaussianStddevMax = 1e-2
)

// NewGaussianAction returns an action strategy that samples the multiplier
// directly, with no scaling. The stddev still lives in log-space.
func NewGaussianAction(initialMean, initialStddev float64) (*GaussianAction, error) {
	if initialStddev <= 0 {
		return nil, errors.Errorf("initial stddev must be positive, got %g", initialStddev)
	}
	return &GaussianAction{
		mean:             &Param{Value: initialMean},
		logStddev:        &Param{Value: math.Log(initialStddev)},
		initialMean:      initialMean,
		initialLogStddev: math.Log(initialStddev),
	}, nil
}

// GaussianAction samples the multiplier directly from a normal distribution.
type GaussianAction struct {
	mean      *Param
	logStddev *Param

	initialMean      float64
	initialLogStddev float64
}

func (g *GaussianAction) clampedMean() float64 {
	return math.Min(g.mean.Value, gaussianMeanMax)
}

func (g *GaussianAction) clampedStddev() float64 {
	return math.Min(math.Exp(g.logStddev.Value), gaussianStddevMax)
}

func (g *GaussianAction) Sample() (float64, float64) {
	mean := g.clampedMean()
	stddev := g.clampedStddev()
	action := mean + stddev*rand.NormFloat64()
	return action, normalLogProb(action, mean, stddev)
}

func (g *GaussianAction) Scale(action float64) (float64, error) {
	return action, nil
}

func (g *GaussianAction) LogProb(action float64) float64 {
	return normalLogProb(action, g.clampedMean(), g.clampedStddev())
}

func (g *GaussianAction) LogProbGrad(action float64) []float64 {
	mean := g.clampedMean()
	stddev := g.clampedStddev()
	z := (action - mean) / stddev

	dMean := z / stddev
	if g.mean.Value > gaussianMeanMax {
		dMean = 0
	}
	dLogStddev := z*z - 1
	if math.Exp(g.logStddev.Value) > gaussianStddevMax {
		dLogStddev = 0
	}
	return []float64{dMean, dLogStddev}
}

func (g *GaussianAction) Entropy() float64 {
	return halfLog2PiE + math.Log(g.clampedStddev())
}

func (g *GaussianAction) EntropyGrad() []float64 {
	if math.Exp(g.logStddev.Value) > gaussianStddevMax {
		return []float64{0, 0}
	}
	return []float64{0, 1}
}

func (g *GaussianAction) InitPull() (float64, []float64) {
	loss := math.Abs(g.mean.Value-g.initialMean) * initPullCoeff
	grad := []float64{sign(g.mean.Value-g.initialMean) * initPullCoeff, 0}

	if g.logStddev.Value > g.initialLogStddev {
		loss += (g.logStddev.Value - g.initialLogStddev) * initPullCoeff
		grad[1] = initPullCoeff
	}
	return loss, grad
}

func (g *GaussianAction) Params() []*Param {
	return []*Param{g.mean, g.logStddev}
}

func (g *GaussianAction) ScaledMean() float64 {
	return g.clampedMean()
}

func (g *GaussianAction) Stddev() float64 {
	return g.clampedStddev()
}

// NewDeterministicAction returns an action strategy that always emits the
// same multiplier and has nothing to train.
func NewDeterministicAction(value float64) *DeterministicAction {
	return &DeterministicAction{value: value}
}

// DeterministicAction is a fixed multiplier with no trainable parameters.
type DeterministicAction struct {
	value float64
}

func (d *DeterministicAction) Sample() (float64, float64)        { return d.value, 0 }
func (d *DeterministicAction) Scale(a float64) (float64, error)  { return a, nil }
func (d *DeterministicAction) LogProb(action float64) float64    { return 0 }
func (d *DeterministicAction) LogProbGrad(a float64) []float64   { return nil }
func (d *DeterministicAction) Entropy() float64                  { return 0 }
func (d *DeterministicAction) EntropyGrad() []float64            { return nil }
func (d *DeterministicAction) InitPull() (float64, []float64)    { return 0, nil }
func (d *DeterministicAction) Params() []*Param                  { return nil }
func (d *DeterministicAction) ScaledMean() float64               { return d.value }
func (d *DeterministicAction) Stddev() float64                   { return 0 }

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
