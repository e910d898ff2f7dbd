package dataloader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tsawler/go-trojan/training"
)

const defaultPrefetchDepth = 3

type prefetched struct {
	batch *training.Batch
	err   error
}

// Prefetcher assembles the batches of a source in a background goroutine so
// decoding and augmentation overlap with the training step. A single worker
// drains the source, so batch order and rng draws match the wrapped source.
type Prefetcher struct {
	src   training.DataSource
	depth int

	mu        sync.Mutex
	items     chan prefetched
	cancel    context.CancelFunc
	done      chan struct{}
	transform *bool

	produced atomic.Uint64
}

// NewPrefetcher wraps src, keeping up to depth batches ready.
func NewPrefetcher(src training.DataSource, depth int) (*Prefetcher, error) {
	if src == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if depth <= 0 {
		depth = defaultPrefetchDepth
	}
	return &Prefetcher{src: src, depth: depth}, nil
}

// Reset stops the running pass and restarts the wrapped source.
func (p *Prefetcher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.halt()
	if p.transform != nil {
		p.src.SetUseTransform(*p.transform)
		p.transform = nil
	}
	p.src.Reset()
	p.start()
}

// SetUseTransform takes effect from the next Reset, never mid-pass.
func (p *Prefetcher) SetUseTransform(use bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transform = &use
}

// Next blocks until the worker has the next batch. It returns nil, nil once
// the pass is exhausted.
func (p *Prefetcher) Next() (*training.Batch, error) {
	p.mu.Lock()
	if p.items == nil {
		p.start()
	}
	items := p.items
	p.mu.Unlock()

	item, ok := <-items
	if !ok {
		return nil, nil
	}
	return item.batch, item.err
}

// NumBatches forwards the wrapped source's batch count when it has one.
func (p *Prefetcher) NumBatches() int {
	if s, ok := p.src.(interface{ NumBatches() int }); ok {
		return s.NumBatches()
	}
	return 0
}

// Produced is the number of batches the worker has handed over so far.
func (p *Prefetcher) Produced() uint64 {
	return p.produced.Load()
}

// Close stops the worker. The prefetcher can be restarted with Reset.
func (p *Prefetcher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halt()
	return nil
}

// start launches a worker for the rest of the current pass. Callers hold mu.
func (p *Prefetcher) start() {
	ctx, cancel := context.WithCancel(context.Background())
	items := make(chan prefetched, p.depth)
	done := make(chan struct{})
	p.items, p.cancel, p.done = items, cancel, done

	go p.worker(ctx, items, done)
}

func (p *Prefetcher) worker(ctx context.Context, items chan<- prefetched, done chan<- struct{}) {
	defer close(done)
	defer close(items)

	for {
		batch, err := p.src.Next()
		select {
		case items <- prefetched{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
		if batch == nil || err != nil {
			return
		}
		p.produced.Add(1)
	}
}

// halt cancels the worker and waits for it to exit. Callers hold mu.
func (p *Prefetcher) halt() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.items, p.cancel, p.done = nil, nil, nil
}
