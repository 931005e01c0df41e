// Package bulk accumulates write operations and sends them as bulk requests.
//
// A Processor collects items into a batch that is flushed when it holds BulkActions items, reaches
// BulkSize bytes or has been open for FlushInterval. Items the engine rejects with a transient status
// are resent according to the RetryPolicy; everything else is reported through the Listener.
package bulk

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/gammazero/deque"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/pteich/elastic-client-kit/api"
	"github.com/pteich/elastic-client-kit/elastic"
)

const kModBulk = "bulk"

// Stats are running totals since the processor was created.
type Stats struct {
	Added     int64
	Batches   int64
	Succeeded int64
	Failed    int64
	Retried   int64
	InFlight  int64
}

type Processor struct {
	tr   esapi.Transport
	opts options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	batch  *Batch
	timer  *time.Timer
	gen    uint64
	closed bool

	sem   *semaphore.Weighted
	qmu   sync.Mutex
	queue deque.Deque[*Batch]

	// serializes listener calls
	lmu sync.Mutex

	wg       sync.WaitGroup
	inFlight atomic.Int64
	seq      atomic.Int64

	added     atomic.Int64
	batches   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor sends bulk requests through tr, usually an *elastic.Session.
func NewProcessor(tr esapi.Transport, opts ...Opt) (*Processor, error) {
	if tr == nil {
		return nil, errors.New("bulk processor needs a transport")
	}
	o, err := parseOpts(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		tr:     tr,
		opts:   o,
		log:    o.log.With().Str("mod", kModBulk).Logger(),
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(max(o.concurrent, 1))),
		sleep:  sleepCtx,
	}

	p.log.Debug().
		Int("bulkActions", o.bulkActions).
		Int("bulkSize", o.bulkSize).
		Dur("flushInterval", o.flushInterval).
		Int("concurrent", o.concurrent).
		Stringer("overflow", o.overflow).
		Int("maxRetries", o.retry.MaxRetries).
		Msg("Bulk processor started")

	return p, nil
}

// Add appends item to the current batch and flushes when a threshold is reached.
// Without concurrent requests the flush runs in the caller and its item failures are returned.
func (p *Processor) Add(ctx context.Context, item api.BulkItem) error {
	data, err := api.EncodeBulkItem(item)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return elastic.ErrProcessorClosed
	}
	p.added.Add(1)

	var ready []*Batch
	// an item that does not fit starts a new batch; an oversized item is flushed alone
	if p.batch != nil && p.batch.size+len(data) > p.opts.bulkSize {
		ready = append(ready, p.cut())
	}
	if p.batch == nil {
		p.batch = &Batch{}
		p.armTimer()
	}
	p.batch.add(entry{item: item, data: data})
	if p.batch.Len() >= p.opts.bulkActions || p.batch.size >= p.opts.bulkSize {
		p.log.Trace().
			Int("itemCnt", p.batch.Len()).
			Int("byteCnt", p.batch.size).
			Msg("Flush on threshold")
		ready = append(ready, p.cut())
	}
	p.mu.Unlock()

	var merr *multierror.Error
	for _, b := range ready {
		if err := p.dispatch(ctx, b); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Flush sends the current batch, if any, without waiting for a threshold.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return elastic.ErrProcessorClosed
	}
	var b *Batch
	if p.batch != nil {
		b = p.cut()
	}
	p.mu.Unlock()

	if b == nil {
		return nil
	}
	return p.dispatch(ctx, b)
}

// Close flushes the remaining items and waits for all flushes, retries included. It gives up after
// the shutdown timeout or when ctx ends, cancels what is still running and returns a ShutdownTimeoutError.
func (p *Processor) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var b *Batch
	if p.batch != nil {
		b = p.cut()
	}
	p.stopTimer()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.opts.shutdownTimeout)
	defer cancel()

	// the last batch runs like any other flush so that wait covers it
	errc := make(chan error, 1)
	if b != nil {
		go func() {
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				p.drop(b, err)
				errc <- err
				return
			}
			err := p.flush(p.ctx, b)
			p.release()
			errc <- err
		}()
	} else {
		errc <- nil
	}

	var merr *multierror.Error
	if err := p.wait(ctx); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := <-errc; err != nil {
		merr = multierror.Append(merr, err)
	}
	p.cancel()

	p.log.Debug().
		Int64("succeeded", p.succeeded.Load()).
		Int64("failed", p.failed.Load()).
		Msg("Bulk processor closed")

	return merr.ErrorOrNil()
}

func (p *Processor) Stats() Stats {
	return Stats{
		Added:     p.added.Load(),
		Batches:   p.batches.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
		InFlight:  p.inFlight.Load(),
	}
}

// cut takes the current batch out for flushing. Must hold p.mu.
func (p *Processor) cut() *Batch {
	b := p.batch
	p.batch = nil
	p.stopTimer()

	b.ID = p.seq.Add(1)
	p.wg.Add(1)
	p.inFlight.Add(1)
	return b
}

// armTimer starts the interval timer for a new batch. Must hold p.mu.
func (p *Processor) armTimer() {
	if p.opts.flushInterval <= 0 {
		return
	}
	gen := p.gen
	p.timer = time.AfterFunc(p.opts.flushInterval, func() { p.onTimer(gen) })
}

// stopTimer invalidates a pending timer flush. Must hold p.mu.
func (p *Processor) stopTimer() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Processor) onTimer(gen uint64) {
	p.mu.Lock()
	if p.closed || p.batch == nil || p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.log.Trace().
		Int("itemCnt", p.batch.Len()).
		Int("byteCnt", p.batch.size).
		Msg("Flush on timer")
	b := p.cut()
	p.mu.Unlock()

	_ = p.dispatch(p.ctx, b)
}

// dispatch runs b in the caller without concurrency, otherwise on a free slot according to the
// overflow policy. ctx bounds the wait for a slot.
func (p *Processor) dispatch(ctx context.Context, b *Batch) error {
	if p.opts.concurrent == 0 {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.drop(b, err)
			return err
		}
		defer p.release()
		return p.flush(ctx, b)
	}

	if p.opts.overflow == OverflowQueue {
		p.qmu.Lock()
		if !p.sem.TryAcquire(1) {
			p.queue.PushBack(b)
			p.qmu.Unlock()
			p.log.Trace().Int64("batch", b.ID).Msg("Flush queued")
			return nil
		}
		p.qmu.Unlock()
	} else if err := p.sem.Acquire(ctx, 1); err != nil {
		p.drop(b, err)
		return err
	}

	go p.run(b)
	return nil
}

func (p *Processor) run(b *Batch) {
	_ = p.flush(p.ctx, b)
	p.release()
}

// release hands the slot to the next queued batch or frees it.
func (p *Processor) release() {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	if p.queue.Len() == 0 {
		p.sem.Release(1)
		return
	}
	go p.run(p.queue.PopFront())
}

// flush sends b with retries and reports the outcome. It returns the failed items as BulkItemFailure.
func (p *Processor) flush(ctx context.Context, b *Batch) error {
	defer p.done()

	start := time.Now()
	p.batches.Add(1)
	p.notify(func(l Listener) { l.BeforeFlush(b.ID, b) })

	res, err := p.send(ctx, b)
	p.succeeded.Add(int64(res.Succeeded))
	p.failed.Add(int64(len(res.Failures)))
	p.retried.Add(int64(res.Retried))

	if err != nil {
		p.log.Error().
			Err(err).
			Int64("batch", b.ID).
			Int("lost", len(res.Failures)).
			Msg("Bulk request failed")
		p.notify(func(l Listener) { l.AfterFlushFailed(b.ID, b, err) })
		return failuresError(res.Failures)
	}

	if len(res.Failures) > 0 {
		p.log.Error().
			Err(res.Failures[0].Err).
			Int64("batch", b.ID).
			Int("failed", len(res.Failures)).
			Msg("Bulk items failed")
	}
	p.log.Trace().
		Int64("batch", b.ID).
		Int("itemCnt", b.Len()).
		Int("retried", res.Retried).
		Dur("rtt", time.Since(start)).
		Msg("Flush done")
	p.notify(func(l Listener) { l.AfterFlush(b.ID, b, res) })
	return failuresError(res.Failures)
}

// drop reports a batch that never got a slot.
func (p *Processor) drop(b *Batch, err error) {
	defer p.done()

	p.batches.Add(1)
	p.failed.Add(int64(b.Len()))
	p.log.Error().Err(err).Int64("batch", b.ID).Int("lost", b.Len()).Msg("Bulk batch dropped")
	p.notify(func(l Listener) {
		l.BeforeFlush(b.ID, b)
		l.AfterFlushFailed(b.ID, b, err)
	})
}

func (p *Processor) done() {
	p.inFlight.Add(-1)
	p.wg.Done()
}

func (p *Processor) notify(fn func(Listener)) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	fn(p.opts.listener)
}

type failedEntry struct {
	entry
	err error
}

// send performs the bulk request and resends transient failures until the retry policy gives up.
func (p *Processor) send(ctx context.Context, b *Batch) (Result, error) {
	var res Result
	pending := b.items
	retry := 0

	for {
		br, err := p.do(ctx, pending)
		if err != nil {
			if retryableError(err) && p.backoff(ctx, &retry, b.ID, len(pending)) {
				res.Retried += len(pending)
				continue
			}
			for _, e := range pending {
				res.Failures = append(res.Failures, elastic.BulkItemFailure{Item: e.item, Err: err})
			}
			return res, err
		}

		var again []failedEntry
		for i, e := range pending {
			if i >= len(br.Items) {
				res.Failures = append(res.Failures, elastic.BulkItemFailure{
					Item: e.item,
					Err:  errors.Errorf("no result for bulk item %d", i),
				})
				continue
			}
			it := br.Items[i]
			switch {
			case !it.Failed():
				res.Succeeded++
			case retryableStatus(it.Status):
				again = append(again, failedEntry{entry: e, err: it.Err()})
			default:
				res.Failures = append(res.Failures, elastic.BulkItemFailure{Item: e.item, Err: it.Err()})
			}
		}

		if len(again) == 0 {
			return res, nil
		}
		if !p.backoff(ctx, &retry, b.ID, len(again)) {
			for _, f := range again {
				res.Failures = append(res.Failures, elastic.BulkItemFailure{Item: f.item, Err: f.err})
			}
			return res, nil
		}

		res.Retried += len(again)
		pending = make([]entry, len(again))
		for i, f := range again {
			pending[i] = f.entry
		}
	}
}

// backoff waits before the next retry. It returns false when the policy is exhausted or ctx ended.
func (p *Processor) backoff(ctx context.Context, retry *int, id int64, items int) bool {
	*retry++
	d, ok := p.opts.retry.next(*retry)
	if !ok {
		return false
	}
	p.log.Debug().
		Int64("batch", id).
		Int("retry", *retry).
		Int("items", items).
		Dur("delay", d).
		Msg("Retrying bulk items")
	return p.sleep(ctx, d) == nil
}

func (p *Processor) do(ctx context.Context, entries []entry) (*api.BulkResult, error) {
	req := esapi.BulkRequest{
		Body:     body(entries),
		Refresh:  string(p.opts.refresh),
		Pipeline: p.opts.pipeline,
	}
	res, err := req.Do(ctx, p.tr)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read bulk response")
	}
	if res.IsError() {
		return nil, api.ResponseError(&elastic.Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, "", "")
	}
	return api.ParseBulkResponse(data)
}

// wait blocks until all flushes are done or ctx ends; then it cancels the stragglers and waits for them.
func (p *Processor) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	n := p.inFlight.Load()
	p.cancel()
	<-done
	if n == 0 {
		return nil
	}
	return &elastic.ShutdownTimeoutError{InFlight: int(n)}
}

func failuresError(fs []elastic.BulkItemFailure) error {
	var merr *multierror.Error
	for _, f := range fs {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
