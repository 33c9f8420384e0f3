// db_test.go -- test suite for dbreader/dbwriter
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
	"flag"
	"fmt"
	"math/rand"
	"os"
	"testing"
)

var keep bool

func init() {
	flag.BoolVar(&keep, "keep", false, "Keep test DB")
}

var keyw = []string{
	"expectoration",
	"mizzenmastman",
	"stockfather",
	"pictorialness",
	"villainous",
	"unquality",
	"sized",
	"Tarahumari",
	"endocrinotherapy",
	"quicksandy",
	"heretics",
	"pediment",
	"spleen's",
	"Shepard's",
	"paralyzed",
	"megahertzes",
	"Richardson's",
	"mechanics's",
	"Springfield",
	"burlesques",
}

func TestDB(t *testing.T) {
	assert := newAsserter(t)

	fn := fmt.Sprintf("%s/mph%d.db", t.TempDir(), rand.Int())

	wr, err := NewDBWriter(fn)
	assert(err == nil, "can't create db: %s", err)

	defer func() {
		if keep {
			t.Logf("DB in %s retained after test\n", fn)
		} else {
			os.Remove(fn)
		}
	}()

	kvmap := make(map[string]string)
	for _, s := range keyw {
		err = wr.Add([]byte(s), []byte(s+"-value"))
		assert(err == nil, "can't add key %s: %s", s, err)
		kvmap[s] = s + "-value"
	}

	err = wr.Freeze(nil)
	assert(err == nil, "freeze failed: %s", err)

	rd, err := NewDBReader(fn, 10)
	assert(err == nil, "read failed: %s", err)

	assert(rd.Len() == len(keyw), "key count mismatch; exp %d, saw %d", len(keyw), rd.Len())

	for k, v := range kvmap {
		s, err := rd.Find([]byte(k))
		assert(err == nil, "can't find key %s: %s", k, err)
		assert(string(s) == v, "key %s: value mismatch; exp %s, saw %s", k, v, string(s))

		// once more through the cache
		s, err = rd.Find([]byte(k))
		assert(err == nil, "cached find %s: %s", k, err)
		assert(string(s) == v, "key %s: cached value mismatch", k)
	}

	// now look for keys not in the DB
	for i := 0; i < 10; i++ {
		k := []byte(fmt.Sprintf("missing-key-%d", i))
		v, err := rd.Find(k)
		assert(err != nil, "whoa: found key %s => %s", k, string(v))
	}

	rd.Close()
}

func TestDBDuplicates(t *testing.T) {
	assert := newAsserter(t)

	fn := fmt.Sprintf("%s/mph%d.db", t.TempDir(), rand.Int())

	wr, err := NewDBWriter(fn)
	assert(err == nil, "can't create db: %s", err)
	defer wr.Abort()

	err = wr.Add([]byte("alpha"), []byte("1"))
	assert(err == nil, "add failed: %s", err)

	err = wr.Add([]byte("alpha"), []byte("2"))
	assert(err == ErrExists, "dup add: exp ErrExists, saw %v", err)
}

func TestDBFrozen(t *testing.T) {
	assert := newAsserter(t)

	fn := fmt.Sprintf("%s/mph%d.db", t.TempDir(), rand.Int())

	wr, err := NewDBWriter(fn)
	assert(err == nil, "can't create db: %s", err)
	defer os.Remove(fn)

	for _, s := range keyw {
		wr.Add([]byte(s), []byte(s))
	}
	err = wr.Freeze(nil)
	assert(err == nil, "freeze failed: %s", err)

	err = wr.Add([]byte("tardy"), []byte("x"))
	assert(err == ErrFrozen, "add after freeze: exp ErrFrozen, saw %v", err)

	err = wr.Freeze(nil)
	assert(err == ErrFrozen, "double freeze: exp ErrFrozen, saw %v", err)
}

// a bigger DB through the partitioned layout
func TestDBPartitioned(t *testing.T) {
	assert := newAsserter(t)

	fn := fmt.Sprintf("%s/mph%d.db", t.TempDir(), rand.Int())

	wr, err := NewDBWriter(fn)
	assert(err == nil, "can't create db: %s", err)
	defer os.Remove(fn)

	keys := randomU64Keys(210000)
	for _, k := range keys {
		key := []byte(fmt.Sprintf("key-%016x", k))
		if err = wr.Add(key, key[4:]); err != nil {
			t.Fatalf("can't add %s: %s", key, err)
		}
	}

	cfg := NewConfig()
	cfg.AvgPartitionSize = 100000
	cfg.NumThreads = 2
	err = wr.Freeze(cfg)
	assert(err == nil, "freeze failed: %s", err)

	rd, err := NewDBReader(fn, 1000)
	assert(err == nil, "read failed: %s", err)
	defer rd.Close()

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%016x", keys[i]))
		v, err := rd.Find(key)
		assert(err == nil, "can't find %s: %s", key, err)
		assert(string(v) == string(key[4:]), "value mismatch for %s", key)
	}
}
