// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/primitives/pkg/core/dtypes"
	"github.com/gomlx/primitives/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/primitives/pkg/primitives/convert"
	"github.com/gomlx/primitives/pkg/primitives/plan"
	"github.com/x448/float16"
)

// Loader widens len(dst) elements of flat, starting at off, to float32.
type Loader func(flat any, off int, dst []float32)

// Storer narrows src into flat starting at off: integers are rounded half-to-even and saturated,
// bfloat16 and float16 rounded to nearest-even.
type Storer func(src []float32, flat any, off int)

// Copier copies n elements between two flat slices of the same dtype, bit-exactly.
type Copier func(src any, srcOff int, dst any, dstOff, n int)

// ILoader widens len(dst) integer elements of flat, starting at off, to int32.
type ILoader func(flat any, off int, dst []int32)

// IStorer stores int32 values in flat starting at off, saturating to the storage type.
type IStorer func(src []int32, flat any, off int)

var (
	loaders         = NewDTypeMap("Load")
	storers         = NewDTypeMap("Store")
	emulatedStorers = NewDTypeMap("StoreEmulatedBF16")
	iLoaders        = NewDTypeMap("LoadInt")
	iStorers        = NewDTypeMap("StoreInt")
	copiers         = NewDTypeMap("Copy")
)

func init() {
	loaders.Register(dtypes.Float32, Loader(loadFloat32))
	loaders.Register(dtypes.BFloat16, Loader(loadBFloat16))
	loaders.Register(dtypes.Float16, Loader(loadFloat16))
	loaders.Register(dtypes.Int8, Loader(loadInt[int8]))
	loaders.Register(dtypes.Uint8, Loader(loadInt[uint8]))
	loaders.Register(dtypes.Int32, Loader(loadInt[int32]))

	storers.Register(dtypes.Float32, Storer(storeFloat32))
	storers.Register(dtypes.BFloat16, Storer(storeBFloat16))
	storers.Register(dtypes.Float16, Storer(storeFloat16))
	storers.Register(dtypes.Int8, Storer(storeInt[int8]))
	storers.Register(dtypes.Uint8, Storer(storeInt[uint8]))
	storers.Register(dtypes.Int32, Storer(storeInt[int32]))
	emulatedStorers.Register(dtypes.BFloat16, Storer(storeBFloat16Emulated))

	iLoaders.Register(dtypes.Int8, ILoader(loadInt32[int8]))
	iLoaders.Register(dtypes.Uint8, ILoader(loadInt32[uint8]))
	iLoaders.Register(dtypes.Int32, ILoader(loadInt32[int32]))
	iStorers.Register(dtypes.Int8, IStorer(storeInt32[int8]))
	iStorers.Register(dtypes.Uint8, IStorer(storeInt32[uint8]))
	iStorers.Register(dtypes.Int32, IStorer(storeInt32[int32]))

	copiers.Register(dtypes.Float32, Copier(copyFlat[float32]))
	copiers.Register(dtypes.BFloat16, Copier(copyFlat[bfloat16.BFloat16]))
	copiers.Register(dtypes.Float16, Copier(copyFlat[float16.Float16]))
	copiers.Register(dtypes.Int8, Copier(copyFlat[int8]))
	copiers.Register(dtypes.Uint8, Copier(copyFlat[uint8]))
	copiers.Register(dtypes.Int32, Copier(copyFlat[int32]))
}

// loaderFor returns the Loader for dtype.
func loaderFor(dtype dtypes.DType) Loader {
	return loaders.Get(dtype).(Loader)
}

// storerFor returns the Storer for dtype using the code path's bfloat16 conversion.
func storerFor(dtype dtypes.DType, path plan.CodePath) Storer {
	if path == plan.EmulatedBF16 && emulatedStorers.Has(dtype) {
		return emulatedStorers.Get(dtype).(Storer)
	}
	return storers.Get(dtype).(Storer)
}

// storeName is the listing name of the store of dtype.
func storeName(dtype dtypes.DType, path plan.CodePath) string {
	if path == plan.EmulatedBF16 && emulatedStorers.Has(dtype) {
		return "store(" + dtype.Short() + ",emulated)"
	}
	return "store(" + dtype.Short() + ")"
}

func loadFloat32(flat any, off int, dst []float32) {
	copy(dst, flat.([]float32)[off:off+len(dst)])
}

func loadBFloat16(flat any, off int, dst []float32) {
	convert.ConvertUp(dst, flat.([]bfloat16.BFloat16)[off:off+len(dst)])
}

func loadFloat16(flat any, off int, dst []float32) {
	convert.ConvertUpF16(dst, flat.([]float16.Float16)[off:off+len(dst)])
}

func loadInt[T dtypes.Integer](flat any, off int, dst []float32) {
	src := flat.([]T)[off : off+len(dst)]
	for i, v := range src {
		dst[i] = float32(v)
	}
}

func storeFloat32(src []float32, flat any, off int) {
	copy(flat.([]float32)[off:off+len(src)], src)
}

func storeBFloat16(src []float32, flat any, off int) {
	convert.ConvertDown(flat.([]bfloat16.BFloat16)[off:off+len(src)], src)
}

func storeBFloat16Emulated(src []float32, flat any, off int) {
	convert.EmulatedConvertDown(flat.([]bfloat16.BFloat16)[off:off+len(src)], src)
}

func storeFloat16(src []float32, flat any, off int) {
	convert.ConvertDownF16(flat.([]float16.Float16)[off:off+len(src)], src)
}

func storeInt[T dtypes.Integer](src []float32, flat any, off int) {
	convert.SaturateSlice(flat.([]T)[off:off+len(src)], src)
}

func loadInt32[T dtypes.Integer](flat any, off int, dst []int32) {
	src := flat.([]T)[off : off+len(dst)]
	for i, v := range src {
		dst[i] = int32(v)
	}
}

func storeInt32[T dtypes.Integer](src []int32, flat any, off int) {
	lowest, highest := convert.Limits[T]()
	lo, hi := int32(lowest), int32(highest)
	if _, isInt32 := any(T(0)).(int32); isInt32 {
		lo, hi = -1<<31, 1<<31-1
	}
	dst := flat.([]T)[off : off+len(src)]
	for i, v := range src {
		dst[i] = T(min(max(v, lo), hi))
	}
}

func copyFlat[T dtypes.Supported](src any, srcOff int, dst any, dstOff, n int) {
	copy(dst.([]T)[dstOff:dstOff+n], src.([]T)[srcOff:srcOff+n])
}
