// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/aclements/go-moremath/stats"
)

// quantizeBuckets is DTRACE_QUANTIZE_NBUCKETS: one bucket per power of
// two on each side of zero, plus the zero bucket itself.
const quantizeBuckets = 127

// quantizeZeroBucket is DTRACE_QUANTIZE_ZEROBUCKET, the index of the
// bucket counting exact zero values.
const quantizeZeroBucket = 63

// quantizeBucketValue returns the lower bound of bucket i in a
// quantize() histogram: negative powers of two below the zero bucket,
// zero at quantizeZeroBucket, positive powers of two above it.
func quantizeBucketValue(i int) int64 {
	switch {
	case i < quantizeZeroBucket:
		return -(int64(1) << uint(quantizeZeroBucket-i))
	case i == quantizeZeroBucket:
		return 0
	default:
		return int64(1) << uint(i-quantizeZeroBucket-1)
	}
}

func readCounts(data []byte) []int64 {
	n := len(data) / 8
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out
}

// bucketSample turns a histogram's (value, count) buckets into a
// weighted sample suitable for go-moremath/stats: each bucket's
// representative value, weighted by its observation count. The
// kernel-side quantize aggregators discard individual observations,
// so this is the closest thing to a sample the format engine has
// access to.
func bucketSample(values, counts []int64) stats.Sample {
	var xs, weights []float64
	for i, c := range counts {
		if c == 0 {
			continue
		}
		xs = append(xs, float64(values[i]))
		weights = append(weights, float64(c))
	}
	return stats.Sample{Xs: xs, Weights: weights}
}

// renderHistogram writes the classic dtrace quantize()-style bar chart
// -- a value column, a fixed-width bar of '@' proportional to the
// bucket's share of the largest bucket, and the raw count -- trimming
// leading/trailing all-zero buckets the way dt_print_quantize does,
// followed by a weighted mean/std-dev summary line.
func renderHistogram(w io.Writer, values []int64, counts []int64, normal uint64) (int, error) {
	lo, hi := 0, len(counts)-1
	for lo < hi && counts[lo] == 0 {
		lo++
	}
	for hi > lo && counts[hi] == 0 {
		hi--
	}
	// Include one empty bucket of padding on each side, as dtrace does,
	// so the histogram's tails are visible.
	if lo > 0 {
		lo--
	}
	if hi < len(counts)-1 {
		hi++
	}

	var max int64
	for i := lo; i <= hi; i++ {
		if counts[i] > max {
			max = counts[i]
		}
	}

	total := 0
	n, err := fmt.Fprintf(w, "%10s %-42s %s\n", "value", "------------- Distribution -------------", "count")
	if err != nil {
		return n, err
	}
	total += n
	for i := lo; i <= hi; i++ {
		var bar string
		if max > 0 {
			nstars := int(counts[i] * 40 / max)
			bar = strings.Repeat("@", nstars) + strings.Repeat(" ", 40-nstars)
		} else {
			bar = strings.Repeat(" ", 40)
		}
		n, err = fmt.Fprintf(w, "%10d |%s %d\n", values[i]/int64(normal), bar, counts[i])
		if err != nil {
			return total + n, err
		}
		total += n
	}

	sample := bucketSample(values, counts)
	if len(sample.Xs) > 0 {
		// stats.Sample.StdDev does not handle weighted samples, so the
		// population std-dev is computed here around the weighted mean.
		mean := sample.Mean()
		var sq, wsum float64
		for i, x := range sample.Xs {
			sq += sample.Weights[i] * (x - mean) * (x - mean)
			wsum += sample.Weights[i]
		}
		n, err = fmt.Fprintf(w, "%10s %-42s mean=%.2f stddev=%.2f\n", "", "", mean, math.Sqrt(sq/wsum))
		if err != nil {
			return total + n, err
		}
		total += n
	}
	return total, nil
}

func printQuantize(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	counts := readCounts(data)
	if len(counts) != quantizeBuckets {
		return 0, ErrMismatch
	}
	values := make([]int64, len(counts))
	for i := range values {
		values[i] = quantizeBucketValue(i)
	}
	return renderHistogram(w, values, counts, normal)
}

// lquantize's base/step/levels are packed into the record's Arg field
// as (base<<32 | step<<16 | levels), since PrintFunc does not carry
// the compiler's static lquantize() arguments directly.
func unpackLquantizeArg(arg uint64) (base int64, step, levels uint32) {
	base = int64(int32(arg >> 32))
	step = uint32(arg>>16) & 0xffff
	levels = uint32(arg) & 0xffff
	return
}

func printLquantize(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	counts := readCounts(data)
	if len(counts) < 3 {
		return 0, ErrMismatch
	}
	var arg uint64
	if d.Rec != nil {
		arg = d.Rec.Arg
	}
	base, step, levels := unpackLquantizeArg(arg)
	if step == 0 {
		step = 1
	}
	values := make([]int64, len(counts))
	values[0] = base - 1 // underflow bucket, displayed at one below base
	for i := 1; i < len(counts)-1 && uint32(i-1) < levels; i++ {
		values[i] = base + int64(i-1)*int64(step)
	}
	values[len(counts)-1] = base + int64(levels)*int64(step) // overflow bucket
	return renderHistogram(w, values, counts, normal)
}

// llquantize packs factor/low/high/steps into Arg the same way
// lquantize does, with a log-linear bucket layout: `factor` buckets
// per order of magnitude between 10^low and 10^high.
func unpackLlquantizeArg(arg uint64) (factor, low, high uint16) {
	factor = uint16(arg >> 48)
	low = uint16(arg >> 32)
	high = uint16(arg >> 16)
	return
}

func printLlquantize(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	counts := readCounts(data)
	if len(counts) == 0 {
		return 0, ErrMismatch
	}
	var arg uint64
	if d.Rec != nil {
		arg = d.Rec.Arg
	}
	factor, _, _ := unpackLlquantizeArg(arg)
	if factor == 0 {
		factor = 1
	}
	values := make([]int64, len(counts))
	step := int64(1)
	for i := range values {
		values[i] = step * int64(i)
		if i > 0 && i%int(factor) == 0 {
			step *= 10
		}
	}
	return renderHistogram(w, values, counts, normal)
}

func printAverage(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if len(data) != 16 {
		return 0, ErrMismatch
	}
	count := binary.LittleEndian.Uint64(data[0:8])
	total := binary.LittleEndian.Uint64(data[8:16])
	var avg uint64
	if count != 0 {
		avg = total / normal / count
	}
	return fmt.Fprintf(w, format, avg)
}

// printStddev reconstructs a population standard deviation from the
// kernel's running (count, sum, sum-of-squares, pad) moments. Unlike
// the histogram renderers above, this operates on pre-aggregated
// moments rather than a sample the per-CPU merge has already
// discarded, so the moment algebra uses stdlib math rather than
// go-moremath/stats (whose Sample type expects raw observations).
func printStddev(e *Engine, w io.Writer, format string, d *Descriptor, data []byte, normal, sig uint64) (int, error) {
	if len(data) != 32 {
		return 0, ErrMismatch
	}
	count := binary.LittleEndian.Uint64(data[0:8])
	sum := binary.LittleEndian.Uint64(data[8:16])
	sumSq := binary.LittleEndian.Uint64(data[16:24])
	if count == 0 {
		return fmt.Fprintf(w, format, uint64(0))
	}
	mean := float64(sum) / float64(count)
	variance := float64(sumSq)/float64(count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	dev := math.Sqrt(variance)
	return fmt.Fprintf(w, format, uint64(dev/float64(normal)))
}
