// config.go -- build configuration for the PTHash family
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package pthash

import (
	"fmt"
	"math"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
)

// InvalidSeed is the sentinel for "no seed configured"; builders pick random
// seeds and retry on rejection when the config carries this value.
const InvalidSeed = ^uint64(0)

const (
	// minPartitionSize is the floor for the average partition size of a
	// non-dense partitioned build.
	minPartitionSize = 100000

	// tableSizePerPartition bounds the per-partition table size of a dense
	// partitioned build.
	log2TableSizePerPartition = 12
	tableSizePerPartition     = 1 << log2TableSizePerPartition

	// maxBucketSize is the largest bucket the builders handle; bucket sizes
	// are stored in a byte throughout.
	maxBucketSize = 255

	// seedRetries is how many fresh random seeds a builder tries before
	// giving up when the configured seed is unset.
	seedRetries = 10
)

// SearchType selects the displacement strategy used by the pilot search.
type SearchType uint8

const (
	// SearchXOR displaces by XOR-ing a hashed pilot into the key hash.
	SearchXOR SearchType = iota

	// SearchAdd factors the pilot as s*table_size + d and displaces the
	// initial position by d.
	SearchAdd
)

// ParseSearchType maps the names "xor" and "add" to a SearchType.
func ParseSearchType(s string) (SearchType, error) {
	switch s {
	case "xor":
		return SearchXOR, nil
	case "add":
		return SearchAdd, nil
	}
	return 0, fmt.Errorf("pthash: unknown search type %q: %w", s, ErrInvalidConfig)
}

func (s SearchType) String() string {
	if s == SearchAdd {
		return "add"
	}
	return "xor"
}

// Config collects the knobs of a build. Zero values of the numeric overrides
// mean "derive from num_keys"; the seed uses the InvalidSeed sentinel so
// that 0 stays a usable seed.
type Config struct {
	// Lambda is the target average bucket size.
	Lambda float64

	// Alpha is the load factor of the position table; in (0, 1].
	Alpha float64

	// AvgPartitionSize enables partitioned builds when > 0.
	AvgPartitionSize uint64

	// NumBuckets overrides the derived ceil(num_keys / Lambda) when > 0.
	NumBuckets uint64

	// TableSize overrides the derived ceil(num_keys / Alpha) when > 0.
	TableSize uint64

	// Seed fixes the hash seed. When InvalidSeed, builders pick random
	// seeds and retry on rejection.
	Seed uint64

	// NumThreads bounds the parallelism of mapping, search and partition
	// building.
	NumThreads int

	// RAM is the memory budget for the external-memory builders; when 0 it
	// defaults to 75% of physical memory.
	RAM uint64

	// TmpDir holds the scratch files of the external-memory builders.
	TmpDir string

	// DensePartitioning stores pilots interleaved across partitions.
	DensePartitioning bool

	// Minimal adds the free-slot remap so outputs cover exactly [0, N).
	Minimal bool

	// Verbose emits progress lines during the build.
	Verbose bool

	// Search selects the displacement strategy.
	Search SearchType

	// Hasher, Bucketer and Encoder name the variants to use; see
	// HasherByName, the bucketer names "uniform", "skew" and "opt", and the
	// encoder names in encoder.go.
	Hasher   string
	Bucketer string
	Encoder  string
}

// NewConfig returns a Config with the default knobs: lambda 4.5, alpha 0.94,
// minimal output, single-threaded XOR search, skew bucketer, rice-encoded
// pilots, 128-bit hashing.
func NewConfig() *Config {
	return &Config{
		Lambda:   4.5,
		Alpha:    0.94,
		Seed:     InvalidSeed,
		NumThreads: 1,
		TmpDir:   os.TempDir(),
		Minimal:  true,
		Search:   SearchXOR,
		Hasher:   "murmur2-128",
		Bucketer: "skew",
		Encoder:  "R",
	}
}

// ram returns the configured budget, defaulting to 75% of physical memory.
func (c *Config) ram() uint64 {
	if c.RAM > 0 {
		return c.RAM
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		return uint64(float64(vm.Total) * 0.75)
	}

	// no way to probe physical memory; assume a small machine
	return 1 << 30
}

func (c *Config) validate(numKeys uint64) error {
	if numKeys == 0 {
		return fmt.Errorf("pthash: no keys: %w", ErrInvalidConfig)
	}
	if c.Alpha <= 0 || c.Alpha > 1.0 {
		return fmt.Errorf("pthash: load factor %f not in (0, 1]: %w", c.Alpha, ErrInvalidConfig)
	}
	if c.Lambda <= 0 {
		return fmt.Errorf("pthash: avg bucket size %f must be > 0: %w", c.Lambda, ErrInvalidConfig)
	}
	if c.NumThreads < 1 {
		return fmt.Errorf("pthash: num threads %d must be >= 1: %w", c.NumThreads, ErrInvalidConfig)
	}
	return nil
}

// numBucketsFor derives the bucket count for numKeys keys.
func (c *Config) numBucketsFor(numKeys uint64) uint64 {
	if c.NumBuckets > 0 {
		return c.NumBuckets
	}
	return uint64(math.Ceil(float64(numKeys) / c.Lambda))
}

// tableSizeFor derives the table size for numKeys keys, steering clear of
// powers of two: those defeat the modular reduction.
func (c *Config) tableSizeFor(numKeys uint64) uint64 {
	ts := c.TableSize
	if ts == 0 {
		ts = uint64(math.Ceil(float64(numKeys) / c.Alpha))
	}
	if ts&(ts-1) == 0 {
		ts++
	}
	return ts
}

// avgPartitionSizeFor clamps the configured partition size to the allowed
// range for a non-dense build.
func (c *Config) avgPartitionSizeFor(numKeys uint64) uint64 {
	aps := c.AvgPartitionSize
	if c.DensePartitioning {
		if aps == 0 {
			aps = findAvgPartitionSize(numKeys)
		}
		return aps
	}
	if aps < minPartitionSize {
		if c.Verbose {
			logf("avg partition size too small; defaulting to %d", uint64(minPartitionSize))
		}
		aps = minPartitionSize
	}
	if numKeys < aps {
		if c.Verbose {
			logf("avg partition size too large for %d keys; defaulting to %d", numKeys, numKeys)
		}
		aps = numKeys
	}
	return aps
}

func computeNumPartitions(numKeys, avgPartitionSize uint64) uint64 {
	return uint64(math.Ceil(float64(numKeys) / float64(avgPartitionSize)))
}

// maxPartitionSizeEstimate is the Raab-Steger balls-into-bins bound
// (Thm. 1, alpha = 1).
func maxPartitionSizeEstimate(avgPartitionSize, numPartitions uint64) uint64 {
	a := float64(avgPartitionSize)
	return avgPartitionSize + uint64(math.Sqrt(2.0*a*math.Log(float64(numPartitions))))
}

// findAvgPartitionSize picks the average partition size for a dense build so
// that the largest partition (almost) never exceeds tableSizePerPartition.
func findAvgPartitionSize(numKeys uint64) uint64 {
	const c = tableSizePerPartition
	if numKeys < c {
		return numKeys
	}
	for a := uint64(c - 500); a != c; a++ {
		if maxPartitionSizeEstimate(a, computeNumPartitions(numKeys, a))+1 >= c {
			return a
		}
	}
	return c - 1
}
