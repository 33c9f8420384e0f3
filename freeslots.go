// freeslots.go -- the remap that turns a PHF into an MPHF
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package pthash

// fillFreeSlots builds the remap for the occupied slots at and beyond
// numKeys: entry i-numKeys redirects slot i to a hole below numKeys. The
// result has one entry per slot in [numKeys, tableSize); entries for free
// slots are filled with the last assigned hole so the sequence stays
// monotone for the Elias-Fano encoding. Returns nil when the table has no
// tail.
func fillFreeSlots(taken *bitVector, numKeys, tableSize uint64) []uint64 {
	if tableSize <= numKeys {
		return nil
	}

	freeSlots := make([]uint64, tableSize-numKeys)

	// holes below numKeys, in increasing order
	slots := make([]uint64, 0, tableSize-numKeys)
	for i := uint64(0); i != numKeys; i++ {
		if !taken.IsSet(i) {
			slots = append(slots, i)
		}
	}

	// every occupied slot in the tail gets the next hole
	count := 0
	for i := numKeys; i != tableSize; i++ {
		if taken.IsSet(i) {
			freeSlots[i-numKeys] = slots[count]
			count++
		}
	}

	// fill the gaps with the last assigned hole; leading gaps stay zero,
	// which is monotone either way
	i := 0
	for ; i != len(freeSlots); i++ {
		if freeSlots[i] != 0 {
			break
		}
	}
	val := uint64(0)
	for ; i != len(freeSlots); i++ {
		if freeSlots[i] == 0 {
			freeSlots[i] = val
		} else {
			val = freeSlots[i]
		}
	}

	return freeSlots
}
