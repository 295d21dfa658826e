// Package analysistest provides a scripted analysis backend for tests.
package analysistest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/smazurov/screenscribe/internal/analysis"
)

// Call records one Describe invocation.
type Call struct {
	Unit   analysis.Unit
	Prompt string
}

// Comparison records one IsDuplicate invocation.
type Comparison struct {
	Current  string
	Previous string
}

// Backend replays queued describe outcomes in order, then falls back to
// DescribeFunc or a numbered description. Comparisons use CompareFunc or
// string equality.
type Backend struct {
	mu           sync.Mutex
	queue        []fn.Result[string]
	describeFunc func(ctx context.Context, unit analysis.Unit, prompt string) fn.Result[string]
	compareFunc  func(current, previous string) fn.Result[bool]
	calls        []Call
	comparisons  []Comparison
}

func New() *Backend {
	return &Backend{}
}

// QueueText appends successful descriptions.
func (b *Backend) QueueText(texts ...string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range texts {
		b.queue = append(b.queue, fn.Ok(t))
	}
	return b
}

// QueueError appends a failed description.
func (b *Backend) QueueError(err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, fn.Err[string](err))
	return b
}

// OnDescribe handles calls once the queue is empty.
func (b *Backend) OnDescribe(f func(ctx context.Context, unit analysis.Unit, prompt string) fn.Result[string]) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.describeFunc = f
	return b
}

// OnCompare replaces the equality comparison.
func (b *Backend) OnCompare(f func(current, previous string) fn.Result[bool]) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compareFunc = f
	return b
}

func (b *Backend) Describe(ctx context.Context, unit analysis.Unit, prompt string) fn.Result[string] {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Unit: unit, Prompt: prompt})
	n := len(b.calls)
	if len(b.queue) > 0 {
		res := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		return res
	}
	f := b.describeFunc
	b.mu.Unlock()

	if f != nil {
		return f(ctx, unit, prompt)
	}
	return fn.Ok(fmt.Sprintf("description %d", n))
}

func (b *Backend) IsDuplicate(_ context.Context, current, previous string) fn.Result[bool] {
	b.mu.Lock()
	b.comparisons = append(b.comparisons, Comparison{Current: current, Previous: previous})
	f := b.compareFunc
	b.mu.Unlock()

	if f != nil {
		return f(current, previous)
	}
	return fn.Ok(current == previous)
}

// Calls returns a copy of recorded describe calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Comparisons returns a copy of recorded comparisons.
func (b *Backend) Comparisons() []Comparison {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Comparison(nil), b.comparisons...)
}

var _ analysis.Backend = (*Backend)(nil)
