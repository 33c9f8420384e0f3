// mphdb.go -- Build a Constant DB based on the PTHash MPHF
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// mphdb.go is an example of using pthash:DBWriter() and DBReader. One can
// construct the on-disk MPH DB using a variety of input:
//   - white space delimited text file: first field is key, second field is value
//   - Comma Separated text file (CSV): first field is key, second field is value
//
// The tunables of the underlying hash function (bucket size, load factor,
// encoder, search strategy, partitioning, external memory) are exposed as
// flags.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/opencoff/go-pthash"

	flag "github.com/opencoff/pflag"
)

func main() {
	var lambda, alpha float64
	var encoder, bucketer, search, hasher, tmpdir string
	var partitionSize, ram, seed uint64
	var threads int
	var dense, external, verify, check, verbose, nonMinimal bool

	usage := fmt.Sprintf("%s [options] OUTPUT [INPUT ...]", os.Args[0])

	flag.Float64VarP(&lambda, "lambda", "l", 4.5, "Use `L` as the avg. bucket size")
	flag.Float64VarP(&alpha, "alpha", "a", 0.94, "Use `A` as the table load factor")
	flag.StringVarP(&encoder, "encoder", "e", "R", "Encode pilots with `E`")
	flag.StringVarP(&bucketer, "bucketer", "b", "skew", "Map hashes to buckets with `B`")
	flag.StringVarP(&search, "search", "s", "xor", "Pilot search strategy (xor, add)")
	flag.StringVarP(&hasher, "hasher", "H", "murmur2-128", "Hash keys with `F`")
	flag.Uint64VarP(&partitionSize, "partition-size", "p", 0, "Avg. partition size (0 disables partitioning)")
	flag.BoolVarP(&dense, "dense", "d", false, "Interleave pilots across partitions")
	flag.BoolVarP(&external, "external", "x", false, "Build in external memory")
	flag.Uint64VarP(&ram, "ram", "m", 0, "RAM budget in bytes for external builds (0: 75% of physical)")
	flag.StringVarP(&tmpdir, "tmp-dir", "t", os.TempDir(), "Scratch `dir` for external builds")
	flag.Uint64VarP(&seed, "seed", "S", pthash.InvalidSeed, "Fixed hash seed")
	flag.IntVarP(&threads, "threads", "T", 1, "Use `N` parallel workers")
	flag.BoolVarP(&nonMinimal, "non-minimal", "M", false, "Non-minimal build (ignored: DB builds are always minimal)")
	flag.BoolVarP(&verify, "verify", "V", false, "Verify a constant DB")
	flag.BoolVarP(&check, "check", "c", false, "Re-open the DB after building and check it")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Emit progress lines")
	flag.Usage = func() {
		fmt.Printf("mphdb - create MPH DB from txt or CSV files using PTHash\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		die("No output file name!\nUsage: %s\n", usage)
	}

	fn := args[0]
	args = args[1:]

	if verify {
		db, err := pthash.NewDBReader(fn, 1000)
		if err != nil {
			die("can't read %s: %s", fn, err)
		}

		fmt.Printf("%s: %d records\n", fn, db.Len())
		db.Close()
		return
	}

	if dense && partitionSize == 0 {
		die("--dense needs an explicit --partition-size")
	}
	if external && check && len(args) == 0 {
		die("can't combine STDIN input with external memory and --check")
	}

	cfg := pthash.NewConfig()
	cfg.Lambda = lambda
	cfg.Alpha = alpha
	cfg.Encoder = encoder
	cfg.Bucketer = bucketer
	cfg.Hasher = hasher
	cfg.AvgPartitionSize = partitionSize
	cfg.DensePartitioning = dense
	cfg.RAM = ram
	cfg.TmpDir = tmpdir
	cfg.Seed = seed
	cfg.NumThreads = threads
	cfg.Minimal = !nonMinimal
	cfg.Verbose = verbose

	st, err := pthash.ParseSearchType(search)
	if err != nil {
		die("%s", err)
	}
	cfg.Search = st

	db, err := pthash.NewDBWriter(fn)
	if err != nil {
		die("can't create MPH DB: %s", err)
	}

	var n, total uint64
	if len(args) > 0 {
		for _, f := range args {
			switch {
			case strings.HasSuffix(f, ".txt"):
				n, err = AddTextFile(db, f, " \t")

			case strings.HasSuffix(f, ".csv"):
				n, err = AddCSVFile(db, f, ',', '#', 0, 1)

			default:
				warn("don't know how to add %s", f)
				continue
			}
			total += n

			if err != nil {
				warn("can't add %s: %s", f, err)
				continue
			}

			fmt.Printf("+ %s: %d records\n", f, n)
		}
	} else {
		n, err = AddTextStream(db, os.Stdin, " \t")
		if err != nil {
			db.Abort()
			die("can't add STDIN: %s", err)
		}

		fmt.Printf("+ <STDIN>: %d records\n", n)
		total = n
	}

	if external {
		err = db.FreezeExternal(cfg)
	} else {
		err = db.Freeze(cfg)
	}
	if err != nil {
		db.Abort()
		die("can't write db %s: %s", fn, err)
	}

	if check {
		rd, err := pthash.NewDBReader(fn, 1000)
		if err != nil {
			die("can't re-open %s: %s", fn, err)
		}
		if uint64(rd.Len()) != total {
			die("%s: record count mismatch; exp %d, saw %d", fn, total, rd.Len())
		}
		rd.Close()
		fmt.Printf("%s: checked %d records\n", fn, total)
	}
}

// die with error
func die(f string, v ...interface{}) {
	warn(f, v...)
	os.Exit(1)
}

func warn(f string, v ...interface{}) {
	z := fmt.Sprintf("%s: %s", os.Args[0], f)
	s := fmt.Sprintf(z, v...)
	if n := len(s); s[n-1] != '\n' {
		s += "\n"
	}

	os.Stderr.WriteString(s)
	os.Stderr.Sync()
}
