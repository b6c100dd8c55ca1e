// Package batch splits work into provider-sized chunks and merges the
// per-item outcomes back by original index.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/nimbus/internal/opserr"
)

// ErrNoResult is recorded for an item its batch neither processed nor failed.
var ErrNoResult = errors.New("no result returned for item")

// Item is a unit of work tagged with its position in the input.
type Item[T any] struct {
	Index int
	Value T
}

// Outcome is the result for one input index.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// Func processes one batch. It returns outcomes for the items it has an answer
// for, success or per-item failure, keyed by Item.Index. A non-nil error marks
// every item of the batch without an outcome as failed.
type Func[T, R any] func(ctx context.Context, items []Item[T]) ([]Outcome[R], error)

// Options controls partitioning and parallelism.
type Options struct {
	// Size is the provider ceiling on items per request.
	Size int
	// Concurrency caps batches in flight. Values <= 1 dispatch sequentially.
	Concurrency int
}

// BatchError wraps the failure of a whole batch.
type BatchError struct {
	Batch int
	First int
	Last  int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (items %d-%d): %v", e.Batch, e.First, e.Last, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Report is the merged outcome of a dispatch.
type Report[R any] struct {
	// Results holds exactly one outcome per input index, sorted by index.
	Results []Outcome[R]
	// Batches is the number of batches the input was split into.
	Batches int
	// BatchErrors maps batch number to the error that failed it.
	BatchErrors map[int]error
}

// Failed returns the error recorded for every failed index.
func (r Report[R]) Failed() map[int]error {
	failed := make(map[int]error)
	for _, o := range r.Results {
		if o.Err != nil {
			failed[o.Index] = o.Err
		}
	}
	return failed
}

// Succeeded returns the number of items processed without error.
func (r Report[R]) Succeeded() int {
	n := 0
	for _, o := range r.Results {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Err returns a *opserr.PartialBatchError when any item failed.
func (r Report[R]) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &opserr.PartialBatchError{Total: len(r.Results), Failures: failed}
}

// Range is a half-open slice [Start, End) of the input.
type Range struct {
	Start int
	End   int
}

// Partition splits n items into contiguous ranges of at most size items.
func Partition(n, size int) []Range {
	if n <= 0 || size <= 0 {
		return nil
	}
	ranges := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		ranges = append(ranges, Range{Start: start, End: min(start+size, n)})
	}
	return ranges
}

// Dispatch runs fn over items in batches of at most opts.Size. One batch failing
// does not stop the others. Batches not started before ctx is done are recorded
// as cancelled. The only error returned is for invalid options.
func Dispatch[T, R any](ctx context.Context, items []T, opts Options, fn Func[T, R]) (Report[R], error) {
	if opts.Size <= 0 {
		return Report[R]{}, fmt.Errorf("batch size must be positive (got %d)", opts.Size)
	}

	ranges := Partition(len(items), opts.Size)
	perBatch := make([][]Outcome[R], len(ranges))
	batchErrs := make([]error, len(ranges))

	var g errgroup.Group
	g.SetLimit(max(opts.Concurrency, 1))

	for k, rg := range ranges {
		g.Go(func() error {
			batch := make([]Item[T], 0, rg.End-rg.Start)
			for i := rg.Start; i < rg.End; i++ {
				batch = append(batch, Item[T]{Index: i, Value: items[i]})
			}

			if err := ctx.Err(); err != nil {
				batchErrs[k] = opserr.Cancelled("dispatch batch", "", err)
				return nil
			}

			outcomes, err := fn(ctx, batch)
			perBatch[k] = outcomes
			if err != nil {
				batchErrs[k] = &BatchError{Batch: k, First: rg.Start, Last: rg.End - 1, Err: err}
				log.Warn().Err(err).
					Int("batch", k).
					Int("first_index", rg.Start).
					Int("last_index", rg.End-1).
					Msg("batch failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return merge(len(items), ranges, perBatch, batchErrs), nil
}

func merge[R any](n int, ranges []Range, perBatch [][]Outcome[R], batchErrs []error) Report[R] {
	report := Report[R]{
		Results:     make([]Outcome[R], n),
		Batches:     len(ranges),
		BatchErrors: make(map[int]error),
	}
	seen := make([]bool, n)

	for k, rg := range ranges {
		for _, o := range perBatch[k] {
			if o.Index < rg.Start || o.Index >= rg.End {
				log.Warn().Int("batch", k).Int("index", o.Index).Msg("ignoring outcome for index outside its batch")
				continue
			}
			if seen[o.Index] {
				continue
			}
			seen[o.Index] = true
			report.Results[o.Index] = o
		}

		missing := batchErrs[k]
		if missing != nil {
			report.BatchErrors[k] = missing
		} else {
			missing = ErrNoResult
		}
		for i := rg.Start; i < rg.End; i++ {
			if !seen[i] {
				seen[i] = true
				report.Results[i] = Outcome[R]{Index: i, Err: missing}
			}
		}
	}

	return report
}
