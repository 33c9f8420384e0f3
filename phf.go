// phf.go -- the common face of the three PHF layouts
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
	"io"
)

// PHF is the query interface shared by the single, partitioned and
// dense-partitioned layouts. A minimal build maps its keys onto
// [0, NumKeys); a non-minimal one into [0, TableSize).
type PHF interface {
	Lookup(key []byte) uint64
	NumKeys() uint64
	TableSize() uint64
	Seed() uint64
	NumBits() uint64
	MarshalBinary(w io.Writer) (int, error)

	marshal(sw *sectionWriter)
	unmarshal(r *sectionReader) error
}

var (
	_ PHF = (*SinglePHF)(nil)
	_ PHF = (*PartitionedPHF)(nil)
	_ PHF = (*DensePartitionedPHF)(nil)
)

// Build constructs the layout the configuration asks for: dense-partitioned
// when DensePartitioning is set, partitioned when AvgPartitionSize > 0, a
// single table otherwise.
func Build(keys KeySet, cfg *Config) (PHF, error) {
	switch {
	case cfg.DensePartitioning:
		return BuildDensePartitionedPHF(keys, cfg)
	case cfg.AvgPartitionSize > 0:
		return BuildPartitionedPHF(keys, cfg)
	}
	return BuildSinglePHF(keys, cfg)
}

// BuildExternal is Build for key sets that do not fit the RAM budget;
// intermediate state spills to Config.TmpDir. Dense partitioning has no
// external pipeline.
func BuildExternal(keys KeySet, cfg *Config) (PHF, error) {
	switch {
	case cfg.DensePartitioning:
		return nil, fmt.Errorf("pthash: dense partitioning is in-memory only: %w", ErrInvalidConfig)
	case cfg.AvgPartitionSize > 0:
		return BuildPartitionedPHFExternal(keys, cfg)
	}
	return BuildSinglePHFExternal(keys, cfg)
}

// marshalPHF writes a layout tag ahead of the function's own sections so
// readers can reconstruct the right type.
func marshalPHF(sw *sectionWriter, f PHF) {
	switch f.(type) {
	case *SinglePHF:
		sw.str("single")
	case *PartitionedPHF:
		sw.str("partitioned")
	case *DensePartitionedPHF:
		sw.str("dense")
	}
	f.marshal(sw)
}

// unmarshalPHF reconstructs a tagged function written by marshalPHF.
func unmarshalPHF(r *sectionReader) (PHF, error) {
	var f PHF
	switch tag := r.str(); tag {
	case "single":
		f = &SinglePHF{}
	case "partitioned":
		f = &PartitionedPHF{}
	case "dense":
		f = &DensePartitionedPHF{}
	default:
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("pthash: unknown function layout %q", tag)
	}
	if err := f.unmarshal(r); err != nil {
		return nil, err
	}
	return f, nil
}
