// dictionary.go -- dictionary-coded pilot sequences
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
	"slices"
	"sort"
)

// dictEncoder stores the distinct values once, sorted, and each position as
// a rank into that dictionary. Pilot distributions are heavily repetitive,
// so the dictionary stays small.
type dictEncoder struct {
	dict  compactVector
	ranks compactVector
}

func (e *dictEncoder) Encode(values []uint64) error {
	if len(values) == 0 {
		return nil
	}

	distinct := slices.Clone(values)
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)

	e.dict = *compactVectorOf(distinct)

	ranks := newCompactVector(uint64(len(values)), bitWidth(uint64(len(distinct)-1)))
	for i, v := range values {
		ranks.Set(uint64(i), uint64(sort.Search(len(distinct), func(j int) bool {
			return distinct[j] >= v
		})))
	}
	e.ranks = *ranks
	return nil
}

func (e *dictEncoder) Access(i uint64) uint64 {
	return e.dict.Access(e.ranks.Access(i))
}

func (e *dictEncoder) Size() uint64 {
	return e.ranks.Size()
}

func (e *dictEncoder) NumBits() uint64 {
	return e.dict.NumBits() + e.ranks.NumBits()
}

func (e *dictEncoder) Name() string { return "D" }

func (e *dictEncoder) marshalTo(w *sectionWriter) {
	e.dict.marshalTo(w)
	e.ranks.marshalTo(w)
}

func (e *dictEncoder) unmarshalFrom(r *sectionReader) error {
	if err := e.dict.unmarshalFrom(r); err != nil {
		return err
	}
	return e.ranks.unmarshalFrom(r)
}
