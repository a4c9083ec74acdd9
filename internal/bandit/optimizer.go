// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package bandit

import "math"

// Optimizer applies one gradient step to borrowed parameter handles.
type Optimizer interface {
	Step(params []*Param)
}

const (
	defaultLearningRate = 0.01
	defaultWeightDecay  = 0.01

	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// NewAdam returns an Adam optimizer with the given learning rate.
func NewAdam(lr float64) *Adam {
	return &Adam{lr: lr}
}

// NewAdamW returns an Adam optimizer with decoupled weight decay.
func NewAdamW(lr, weightDecay float64) *Adam {
	return &Adam{lr: lr, weightDecay: weightDecay}
}

// Adam implements the Adam update with bias-corrected moment estimates, and
// doubles as AdamW when weightDecay is non-zero.
type Adam struct {
	lr          float64
	weightDecay float64

	t int
	m []float64
	v []float64
}

// Step applies one update from the parameters' accumulated gradients.
func (a *Adam) Step(params []*Param) {
	if a.m == nil {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
	}
	a.t++

	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))

	for i, p := range params {
		g := p.Grad
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g

		mHat := a.m[i] / c1
		vHat := a.v[i] / c2

		step := mHat / (math.Sqrt(vHat) + adamEps)
		p.Value -= a.lr * (step + a.weightDecay*p.Value)
	}
}
