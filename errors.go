// errors.go -- error values for the pthash package
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
	"errors"
	"fmt"
)

var (
	// ErrSeedRejected is returned when two keys of the same bucket hash to
	// the same payload under the current seed. Builders retry with a fresh
	// random seed when the configured seed is unset; otherwise the error is
	// surfaced to the caller.
	ErrSeedRejected = errors.New("seed rejected: duplicate hash within a bucket")

	// ErrHashCollisionRisk is returned when a 64-bit hasher is used with
	// more than 2^30 keys; the birthday bound makes collisions too likely.
	// Use a 128-bit hasher instead.
	ErrHashCollisionRisk = errors.New("too many keys for 64-bit hashes; use a 128-bit hasher")

	// ErrInvalidConfig is returned when a build configuration fails
	// validation (bad load factor, zero partitions, oversized buckets and
	// the like).
	ErrInvalidConfig = errors.New("invalid build configuration")

	// ErrResourceExhausted is returned when the configured RAM budget is
	// too small for the fixed structures of a build.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrFrozen is returned when attempting to add new records to an already
	// frozen DB. It is also returned when trying to freeze a DB that's
	// already frozen.
	ErrFrozen = errors.New("DB already frozen")

	// ErrValueTooLarge is returned if the value-length is larger than 2^32-1 bytes
	ErrValueTooLarge = errors.New("value is larger than 2^32-1 bytes")

	// ErrExists is returned if a duplicate key is added to the DB
	ErrExists = errors.New("key exists in DB")

	// ErrNoKey is returned when a key cannot be found in the DB
	ErrNoKey = errors.New("no such key")
)

func errShortWrite(n int) error {
	return fmt.Errorf("pthash: incomplete write; saw %d bytes", n)
}

func errCorrupt(what string) error {
	return fmt.Errorf("pthash: corrupt artifact: %s", what)
}
