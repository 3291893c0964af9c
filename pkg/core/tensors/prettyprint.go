// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"strings"
)

// Summary returns a multi-line summary of the view's logical content, in row-major order.
// Inspired by numpy output: rows longer than 6 elements and axes with more than 6 rows are elided.
//
// Integer dtypes are printed as integers, floating point ones with the given precision.
func (v View) Summary(precision int) string {
	if v.IsEmpty() {
		return v.Shape().String()
	}
	values := v.ToFloat32()
	isInt := v.DType.IsInt()

	var buf strings.Builder
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	wValue := func(idx int) {
		if isInt {
			w("%d", int64(values[idx]))
			return
		}
		w("%.*g", precision, values[idx])
	}

	dims := v.Dimensions
	for _, dim := range dims {
		w("[%d]", dim)
	}
	w("%s", v.DType.Short())
	if len(dims) == 0 {
		w("(")
		wValue(0)
		w(")")
		return buf.String()
	}

	var printElements func(index, indent int, shape []int)
	printElements = func(index, indent int, shape []int) {
		if len(shape) == 1 {
			w("{")
			if shape[0] > 6 {
				for i := range 3 {
					if i > 0 {
						w(", ")
					}
					wValue(index + i)
				}
				w(", ..., ")
				for i := shape[0] - 3; i < shape[0]; i++ {
					if i > shape[0]-3 {
						w(", ")
					}
					wValue(index + i)
				}
			} else {
				for i := range shape[0] {
					if i > 0 {
						w(", ")
					}
					wValue(index + i)
				}
			}
			w("}")
			return
		}

		stride := 1
		for _, dim := range shape[1:] {
			stride *= dim
		}
		w("{")
		if indent == -1 {
			if shape[0] > 1 {
				w("\n ")
			}
			indent = 1
		}
		indentStr := strings.Repeat(" ", indent)
		rows := make([]int, 0, shape[0])
		if shape[0] > 6 {
			rows = append(rows, 0, 1, 2, -1, shape[0]-3, shape[0]-2, shape[0]-1)
		} else {
			for ii := range shape[0] {
				rows = append(rows, ii)
			}
		}
		for ii, row := range rows {
			if ii > 0 {
				w(",\n%s", indentStr)
			}
			if row == -1 {
				w("...")
				continue
			}
			printElements(index+row*stride, indent+1, shape[1:])
		}
		w("}")
	}
	printElements(0, -1, dims)
	return buf.String()
}
