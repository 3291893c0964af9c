// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package postops

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Alg enumerates the activation algorithms of Eltwise.
type Alg int

const (
	// Relu is x if x > 0, alpha·x otherwise (leaky if alpha != 0).
	Relu Alg = iota
	// Tanh is tanh(x).
	Tanh
	// Elu is x if x > 0, alpha·(eˣ-1) otherwise.
	Elu
	// Square is x².
	Square
	// Abs is |x|.
	Abs
	// Sqrt is √x for x > 0, 0 otherwise.
	Sqrt
	// Linear is alpha·x + beta.
	Linear
	// BoundedRelu is min(alpha, max(x, 0)).
	BoundedRelu
	// SoftRelu is log(1+eˣ).
	SoftRelu
	// Logistic is 1/(1+e⁻ˣ).
	Logistic
	// Exp is eˣ.
	Exp
	// Gelu is the tanh approximation of the Gaussian error linear unit.
	Gelu
	// Swish is x·logistic(alpha·x).
	Swish
	// Clip is min(beta, max(x, alpha)).
	Clip

	numAlgs
)

var algNames = [...]string{
	"relu", "tanh", "elu", "square", "abs", "sqrt", "linear", "bounded_relu", "soft_relu", "logistic",
	"exp", "gelu", "swish", "clip",
}

// String implements fmt.Stringer.
func (a Alg) String() string {
	if !a.IsValid() {
		return "invalid"
	}
	return algNames[a]
}

// IsValid returns whether a is one of the known algorithms.
func (a Alg) IsValid() bool {
	return a >= 0 && a < numAlgs
}

// ParseAlg returns the algorithm with the given name.
func ParseAlg(name string) (Alg, error) {
	name = strings.ToLower(name)
	for a := Relu; a < numAlgs; a++ {
		if algNames[a] == name {
			return a, nil
		}
	}
	return 0, errors.Errorf("unknown activation algorithm %q", name)
}

// Func returns the scalar function of the activation, with alpha and beta bound.
//
// It is resolved once, when a kernel is generated, so the per-element call has no dispatch on the algorithm.
func (e Eltwise) Func() func(x float32) float32 {
	alpha, beta := e.Alpha, e.Beta
	switch e.Alg {
	case Relu:
		if alpha == 0 {
			return func(x float32) float32 { return max(x, 0) }
		}
		return func(x float32) float32 {
			if x > 0 {
				return x
			}
			return alpha * x
		}
	case Tanh:
		return func(x float32) float32 { return float32(math.Tanh(float64(x))) }
	case Elu:
		return func(x float32) float32 {
			if x > 0 {
				return x
			}
			return alpha * float32(math.Expm1(float64(x)))
		}
	case Square:
		return func(x float32) float32 { return x * x }
	case Abs:
		return func(x float32) float32 { return float32(math.Abs(float64(x))) }
	case Sqrt:
		return func(x float32) float32 {
			if x > 0 {
				return float32(math.Sqrt(float64(x)))
			}
			return 0
		}
	case Linear:
		return func(x float32) float32 { return alpha*x + beta }
	case BoundedRelu:
		return func(x float32) float32 { return min(alpha, max(x, 0)) }
	case SoftRelu:
		return func(x float32) float32 {
			// Above the threshold log(1+eˣ) == x in float32.
			if x > 88.72283 {
				return x
			}
			return float32(math.Log1p(math.Exp(float64(x))))
		}
	case Logistic:
		return func(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) }
	case Exp:
		return func(x float32) float32 { return float32(math.Exp(float64(x))) }
	case Gelu:
		const sqrt2OverPi = 0.79788456080286535588
		return func(x float32) float32 {
			v := float64(x)
			return float32(0.5 * v * (1 + math.Tanh(sqrt2OverPi*(v+0.044715*v*v*v))))
		}
	case Swish:
		return func(x float32) float32 {
			return x * float32(1/(1+math.Exp(-float64(alpha*x))))
		}
	case Clip:
		return func(x float32) float32 { return min(beta, max(x, alpha)) }
	}
	panic(errors.Errorf("Eltwise.Func: invalid algorithm %d", e.Alg))
}
