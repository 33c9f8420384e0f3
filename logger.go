// logger.go -- build progress reporting
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
	"time"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

func logf(format string, args ...interface{}) {
	klog.Infof("pthash: "+format, args...)
}

// searchLogger reports pilot-search progress roughly every 5% of buckets.
// The number of keys placed so far never exceeds the key count; the caller
// updates it once per committed bucket.
type searchLogger struct {
	numKeys    uint64
	numBuckets uint64
	step       uint64
	lastBucket uint64
	placedKeys uint64
	started    time.Time
	enabled    bool
}

func newSearchLogger(numKeys, numBuckets uint64, enabled bool) *searchLogger {
	step := uint64(1)
	if numBuckets > 20 {
		step = numBuckets / 20
	}
	return &searchLogger{
		numKeys:    numKeys,
		numBuckets: numBuckets,
		step:       step,
		enabled:    enabled,
	}
}

func (l *searchLogger) init() {
	if !l.enabled {
		return
	}
	l.started = time.Now()
	logf("search starts: %s keys in %s buckets",
		humanize.Comma(int64(l.numKeys)), humanize.Comma(int64(l.numBuckets)))
}

func (l *searchLogger) update(bucket, bucketSize uint64) {
	l.placedKeys += bucketSize
	if !l.enabled {
		return
	}
	if bucket > 0 && bucket%l.step == 0 {
		l.print(bucket)
	}
}

func (l *searchLogger) finalize(bucket uint64) {
	if !l.enabled {
		return
	}
	l.print(bucket)
	empty := l.numBuckets - bucket
	logf("search ends: %s empty buckets (%.2f%%)",
		humanize.Comma(int64(empty)), float64(empty)*100.0/float64(l.numBuckets))
}

func (l *searchLogger) print(bucket uint64) {
	logf("%s buckets done in %v (%.2f%% of keys, %.2f%% of buckets)",
		humanize.Comma(int64(bucket-l.lastBucket)), time.Since(l.started).Round(time.Millisecond),
		float64(l.placedKeys)*100.0/float64(l.numKeys),
		float64(bucket)*100.0/float64(l.numBuckets))
	l.lastBucket = bucket
}

// progressLogger reports a long scan every few million items.
type progressLogger struct {
	total   uint64
	done    uint64
	step    uint64
	what    string
	enabled bool
}

func newProgressLogger(total uint64, what string, enabled bool) *progressLogger {
	return &progressLogger{
		total:   total,
		step:    10 * 1000 * 1000,
		what:    what,
		enabled: enabled,
	}
}

func (p *progressLogger) log(n uint64) {
	p.done += n
	if p.enabled && p.done%p.step < n {
		logf("%s %s/%s %s", p.what,
			humanize.Comma(int64(p.done)), humanize.Comma(int64(p.total)), "items")
	}
}

func (p *progressLogger) finalize() {
	if p.enabled {
		logf("%s %s items done", p.what, humanize.Comma(int64(p.done)))
	}
}
