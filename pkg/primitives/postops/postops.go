// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package postops defines the operations fused into the output stage (epilogue) of a primitive:
// bias addition, residual sum and elementwise activation.
//
// PostOp is a closed sum type: Bias, Sum and Eltwise are its only implementations, and code that
// consumes it switches exhaustively over them.
package postops

import (
	"fmt"
	"strings"

	"github.com/gomlx/primitives/pkg/primitives/status"
	"k8s.io/klog/v2"
)

// MaxPostOps is the capacity of a Chain.
const MaxPostOps = 4

// PostOp is one fused output-stage operation. Implemented by Bias, Sum and Eltwise.
type PostOp interface {
	fmt.Stringer
	isPostOp()
}

// Bias adds the per-output-channel bias tensor to the accumulator.
type Bias struct{}

// Sum adds Scale × (previous destination value) to the result: a residual connection.
type Sum struct {
	Scale float32
}

// Eltwise applies an activation function, parametrized by Alpha and Beta (see Alg).
type Eltwise struct {
	Alg         Alg
	Alpha, Beta float32
}

func (Bias) isPostOp()    {}
func (Sum) isPostOp()     {}
func (Eltwise) isPostOp() {}

func (Bias) String() string { return "bias" }

func (s Sum) String() string { return fmt.Sprintf("sum(%g)", s.Scale) }

func (e Eltwise) String() string {
	return fmt.Sprintf("eltwise(%s,%g,%g)", e.Alg, e.Alpha, e.Beta)
}

// Chain is an ordered, fixed-capacity sequence of post-ops. The zero value is the empty chain.
type Chain struct {
	ops [MaxPostOps]PostOp
	n   int
}

// NewChain creates a chain with the given post-ops, in order.
// It returns an invalid argument error if there are more than MaxPostOps.
func NewChain(ops ...PostOp) (Chain, error) {
	var c Chain
	for _, op := range ops {
		if err := c.Append(op); err != nil {
			return Chain{}, err
		}
	}
	return c, nil
}

// MustChain is like NewChain, but panics on error.
func MustChain(ops ...PostOp) Chain {
	c, err := NewChain(ops...)
	if err != nil {
		panic(err)
	}
	return c
}

// Append adds a post-op to the end of the chain.
func (c *Chain) Append(op PostOp) error {
	if op == nil {
		return status.InvalidArgumentf("postops: nil post-op")
	}
	if c.n >= MaxPostOps {
		return status.InvalidArgumentf("postops: chain capacity of %d exceeded appending %s", MaxPostOps, op)
	}
	c.ops[c.n] = op
	c.n++
	return nil
}

// Len returns the number of post-ops.
func (c Chain) Len() int { return c.n }

// At returns the i-th post-op.
func (c Chain) At(i int) PostOp { return c.ops[i] }

// Ops returns a copy of the post-ops in the chain.
func (c Chain) Ops() []PostOp {
	return append([]PostOp(nil), c.ops[:c.n]...)
}

// String implements fmt.Stringer, e.g. "bias+sum(1)+eltwise(relu,0,0)", or "none".
func (c Chain) String() string {
	if c.n == 0 {
		return "none"
	}
	parts := make([]string, c.n)
	for i, op := range c.ops[:c.n] {
		parts[i] = op.String()
	}
	return strings.Join(parts, "+")
}

// Fused is the resolved form of a Chain, as applied by the epilogue: each kind at most once, in the fixed
// order bias, sum, eltwise.
type Fused struct {
	Bias       bool
	Sum        bool
	SumScale   float32
	HasEltwise bool
	Eltwise    Eltwise
}

// rank of each kind in the epilogue order.
func rank(op PostOp) int {
	switch op.(type) {
	case Bias:
		return 0
	case Sum:
		return 1
	case Eltwise:
		return 2
	}
	return -1
}

// Resolve validates the chain and returns its Fused form.
//
// Only the first post-op of each kind is meaningful, later duplicates are ignored (and logged).
// A chain whose kinds are not in the order bias, sum, eltwise has no kernel: it returns an
// unimplemented error. Invalid activation parameters, or post-ops other than Bias, Sum and Eltwise, return an
// invalid argument error.
func (c Chain) Resolve() (Fused, error) {
	var f Fused
	seen := [3]bool{}
	lastRank := -1
	for _, op := range c.ops[:c.n] {
		r := rank(op)
		if r < 0 {
			return Fused{}, status.InvalidArgumentf("postops: unknown post-op %T in chain", op)
		}
		if seen[r] {
			klog.Warningf("postops: ignoring duplicate post-op %s in chain %s", op, c)
			continue
		}
		if r < lastRank {
			return Fused{}, status.Unimplementedf("postops: chain %s is not in the order bias, sum, eltwise", c)
		}
		seen[r] = true
		lastRank = r
		switch op := op.(type) {
		case Bias:
			f.Bias = true
		case Sum:
			f.Sum = true
			f.SumScale = op.Scale
		case Eltwise:
			if !op.Alg.IsValid() {
				return Fused{}, status.InvalidArgumentf("postops: invalid activation algorithm %d", op.Alg)
			}
			f.HasEltwise = true
			f.Eltwise = op
		}
	}
	return f, nil
}

// String returns a compact canonical description, used in plan keys.
func (f Fused) String() string {
	var parts []string
	if f.Bias {
		parts = append(parts, "bias")
	}
	if f.Sum {
		parts = append(parts, Sum{Scale: f.SumScale}.String())
	}
	if f.HasEltwise {
		parts = append(parts, f.Eltwise.String())
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}
