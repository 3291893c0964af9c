// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package status

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Success, CodeOf(nil))
	assert.Equal(t, Unimplemented, CodeOf(Unimplementedf("InnerProduct: dtype %s", "f64")))
	assert.Equal(t, InvalidArguments, CodeOf(errors.WithMessage(InvalidArgumentf("bad"), "Execute")))
	assert.Equal(t, OutOfMemory, CodeOf(ResourceExhaustedf("scratchpad")))
	assert.Equal(t, RuntimeError, CodeOf(errors.New("other")))
	assert.Equal(t, "out_of_memory", OutOfMemory.String())

	err := Unimplementedf("Pooling: dtype %s", "f16")
	assert.True(t, errors.Is(err, ErrUnimplemented))
	assert.Contains(t, err.Error(), "Pooling: dtype f16: unimplemented")
}
