// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/primitives/pkg/primitives/driver"
	"github.com/gomlx/primitives/pkg/primitives/isa"
	"github.com/gomlx/primitives/pkg/primitives/status"
	"github.com/pkg/errors"
)

// GOMLX_PRIMITIVES is the environment variable with the default engine configuration, used by NewFromEnv.
//
// See ParseConfig for the format.
const GOMLX_PRIMITIVES = "GOMLX_PRIMITIVES"

// DefaultConfig is the configuration used by NewFromEnv if GOMLX_PRIMITIVES is not set.
var DefaultConfig string

// DefaultCacheSize is the default maximum number of primitives kept by an Engine.
const DefaultCacheSize = 256

// Config of an Engine.
type Config struct {
	// Threads is the number of workers of the pool, and the default team size. Defaults to runtime.NumCPU().
	Threads int

	// ISA caps the detected instruction set. Nil means use the detected one.
	ISA *isa.Level

	// Reduction selects the synchronization of the weights-gradient reduction.
	Reduction driver.ReductionMode

	// MaxScratch is the limit, in bytes, of one scratchpad. 0 means unlimited.
	MaxScratch uint64

	// CacheSize is the maximum number of primitives memoized by the engine.
	CacheSize int
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	isaName := "auto"
	if c.ISA != nil {
		isaName = c.ISA.String()
	}
	return fmt.Sprintf("threads=%d,isa=%s,reduction=%s,max_scratch=%s,cache=%d",
		c.Threads, isaName, c.Reduction, humanize.IBytes(c.MaxScratch), c.CacheSize)
}

// ParseConfig parses a comma-separated list of key=value options:
//
//   - threads: number of workers, e.g. "threads=8". Defaults to runtime.NumCPU().
//   - isa: one of scalar, sse41, avx2, avx512_core, avx512_core_bf16, neon or auto (the default).
//     It caps the ISA detected on the running CPU.
//   - reduction: auto (default), barrier or twopass.
//   - max_scratch: maximum size of a scratchpad, e.g. "64MiB". 0 (default) is unlimited.
//   - cache: maximum number of primitives memoized. Defaults to DefaultCacheSize.
//
// Errors wrap status.ErrInvalidArgument.
func ParseConfig(config string) (Config, error) {
	c := Config{
		Threads:   runtime.NumCPU(),
		Reduction: driver.ReductionAuto,
		CacheSize: DefaultCacheSize,
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return c, status.InvalidArgumentf("primitives configuration: option %q is not in the format key=value", part)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		var err error
		switch key {
		case "threads":
			c.Threads, err = parsePositive(key, value)
		case "isa":
			c.ISA = nil
			if value != "auto" {
				var level isa.Level
				level, err = isa.ParseLevel(value)
				if err == nil {
					c.ISA = &level
				}
			}
		case "reduction":
			c.Reduction, err = driver.ParseReductionMode(value)
		case "max_scratch":
			c.MaxScratch, err = humanize.ParseBytes(value)
		case "cache":
			c.CacheSize, err = parsePositive(key, value)
		default:
			return c, status.InvalidArgumentf("primitives configuration: unknown option %q (valid: threads, isa, "+
				"reduction, max_scratch, cache)", key)
		}
		if err != nil {
			return c, status.InvalidArgumentf("primitives configuration: option %q: %v", part, err)
		}
	}
	return c, nil
}

func parsePositive(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.Errorf("%s must be >= 1, got %d", key, n)
	}
	return n, nil
}

// configFromEnv returns the configuration string from GOMLX_PRIMITIVES, or DefaultConfig.
func configFromEnv() string {
	if config, found := os.LookupEnv(GOMLX_PRIMITIVES); found {
		return config
	}
	return DefaultConfig
}
