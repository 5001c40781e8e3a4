package execbulk_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/contract/fake"
	"github.com/dvbulk/corelib/execbulk"
	"github.com/dvbulk/corelib/pool"
	"github.com/dvbulk/corelib/source"
	"github.com/dvbulk/corelib/xcfg"
	"github.com/dvbulk/corelib/xerr"
)

func TestExecBulk(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "execbulk suite")
}

type constFactory struct{ c contract.ServiceClient }

func (f constFactory) NewSeedClient(ctx context.Context) (contract.ServiceClient, error) {
	return f.c, nil
}

// gauge tracks the peak number of in-flight sends across all clones of one
// client, to observe the admission semaphore from the outside.
type gauge struct {
	cur  atomic.Int64
	peak atomic.Int64
}

func (g *gauge) enter() {
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) exit() { g.cur.Add(-1) }

type gaugedClient struct {
	*fake.Client
	g *gauge
}

func (c *gaugedClient) SendBulk(ctx context.Context, entity string, op contract.Operation, records []contract.Record, opts contract.RecordOptions) (contract.BulkResponse, error) {
	c.g.enter()
	defer c.g.exit()
	return c.Client.SendBulk(ctx, entity, op, records, opts)
}

func (c *gaugedClient) Clone(ctx context.Context) (contract.ServiceClient, error) {
	inner, err := c.Client.Clone(ctx)
	if err != nil {
		return nil, err
	}
	return &gaugedClient{Client: inner.(*fake.Client), g: c.g}, nil
}

func newPool(ctx context.Context, clients ...*fake.Client) *pool.Pool {
	sources := make([]source.Source, 0, len(clients))
	for _, c := range clients {
		s, err := source.New(ctx, source.Config{Name: c.SourceName, Factory: constFactory{c: c}})
		Expect(err).NotTo(HaveOccurred())
		sources = append(sources, s)
	}
	p, err := pool.New(xcfg.DefaultPoolConfig(), sources, nil)
	Expect(err).NotTo(HaveOccurred())
	return p
}

func makeRecords(n int) []contract.Record {
	recs := make([]contract.Record, n)
	for i := range recs {
		recs[i] = contract.Record{ID: fmt.Sprintf("rec-%05d", i), Fields: map[string]any{"n": i}}
	}
	return recs
}

var _ = Describe("ExecuteBatches", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("moves 10k records over two healthy sources in 1000-record batches", func() {
		a := fake.New("A", 4)
		b := fake.New("B", 4)
		g := &gauge{}

		srcA, err := source.New(ctx, source.Config{Name: "A", Factory: constFactory{c: &gaugedClient{Client: a, g: g}}})
		Expect(err).NotTo(HaveOccurred())
		srcB, err := source.New(ctx, source.Config{Name: "B", Factory: constFactory{c: &gaugedClient{Client: b, g: g}}})
		Expect(err).NotTo(HaveOccurred())

		p, err := pool.New(xcfg.DefaultPoolConfig(), []source.Source{srcA, srcB}, nil)
		Expect(err).NotTo(HaveOccurred())
		exec := execbulk.New(ctx, p, nil)

		opts := xcfg.DefaultExecOptions()
		res := exec.ExecuteBatches(ctx, "widget", contract.OpCreate, makeRecords(10_000), opts, contract.RecordOptions{}, nil)

		Expect(res.SuccessCount).To(Equal(int64(10_000)))
		Expect(res.FailureCount).To(BeZero())
		Expect(res.Processed).To(Equal(int64(10_000)))
		// probe + remainder-of-first-batch + 9 full batches
		Expect(a.BulkCalls("widget", contract.OpCreate) + b.BulkCalls("widget", contract.OpCreate)).To(Equal(int64(11)))
		// The admission semaphore caps in-flight sends at the summed DOP.
		Expect(g.peak.Load()).To(BeNumerically("<=", int64(8)))
	})

	It("falls back to per-record sends when bulk is unsupported, and never probes again", func() {
		a := fake.New("A", 4).WithScript("team", contract.OpCreate, fake.Script{BulkUnsupported: true})
		p := newPool(ctx, a)
		exec := execbulk.New(ctx, p, nil)

		opts := xcfg.DefaultExecOptions()
		res := exec.ExecuteBatches(ctx, "team", contract.OpCreate, makeRecords(117), opts, contract.RecordOptions{}, nil)

		Expect(res.SuccessCount).To(Equal(int64(117)))
		Expect(res.FailureCount).To(BeZero())
		Expect(a.SingleCalls("team", contract.OpCreate)).To(Equal(int64(117)))

		// Capability is cached: a second run issues no further bulk attempts.
		res = exec.ExecuteBatches(ctx, "team", contract.OpCreate, makeRecords(10), opts, contract.RecordOptions{}, nil)
		Expect(res.SuccessCount).To(Equal(int64(10)))
		Expect(a.SingleCalls("team", contract.OpCreate)).To(Equal(int64(127)))
	})

	It("retries a throttled batch after the penalty clears", func() {
		a := fake.New("A", 4).WithScript("widget", contract.OpCreate, fake.Script{
			ThrottleOnCallN: 2, // probe is call 1
			RetryAfter:      50 * time.Millisecond,
		})
		p := newPool(ctx, a)
		exec := execbulk.New(ctx, p, nil)

		var throttledSamples int
		var mu sync.Mutex
		observe := func(s execbulk.BatchSample) {
			mu.Lock()
			defer mu.Unlock()
			if s.Throttled {
				throttledSamples++
			}
		}

		opts := xcfg.DefaultExecOptions()
		res := exec.ExecuteBatches(ctx, "widget", contract.OpCreate, makeRecords(2_000), opts, contract.RecordOptions{}, observe)

		Expect(res.SuccessCount).To(Equal(int64(2_000)))
		Expect(res.FailureCount).To(BeZero())
		mu.Lock()
		Expect(throttledSamples).To(Equal(1))
		mu.Unlock()
	})

	It("gives up on a batch after max_batch_retries and records its records as Throttled", func() {
		a := fake.New("A", 2).WithScript("widget", contract.OpCreate, fake.Script{
			ThrottleAlways: true,
			RetryAfter:     time.Millisecond,
		})
		p := newPool(ctx, a)
		exec := execbulk.New(ctx, p, nil)

		opts := xcfg.DefaultExecOptions()
		opts.BatchSize = 10
		opts.MaxBatchRetries = 1

		res := exec.ExecuteBatches(ctx, "widget", contract.OpCreate, makeRecords(20), opts, contract.RecordOptions{}, nil)

		Expect(res.SuccessCount).To(BeZero())
		Expect(res.FailureCount).To(BeNumerically(">=", int64(19)))

		sawThrottled := false
		for _, e := range res.Errors {
			if e.Kind == xerr.KindThrottled {
				sawThrottled = true
			}
		}
		Expect(sawThrottled).To(BeTrue())
	})

	It("degenerates to per-record mode at batch_size 1 without probing", func() {
		a := fake.New("A", 4)
		p := newPool(ctx, a)
		exec := execbulk.New(ctx, p, nil)

		opts := xcfg.DefaultExecOptions()
		opts.BatchSize = 1
		res := exec.ExecuteBatches(ctx, "widget", contract.OpCreate, makeRecords(25), opts, contract.RecordOptions{}, nil)

		Expect(res.SuccessCount).To(Equal(int64(25)))
		Expect(a.BulkCalls("widget", contract.OpCreate)).To(BeZero())
		Expect(a.SingleCalls("widget", contract.OpCreate)).To(Equal(int64(25)))
	})

	It("retries transient errors with backoff before succeeding", func() {
		a := fake.New("A", 4).WithScript("widget", contract.OpUpsert, fake.Script{TransientFailuresBeforeSuccess: 2})
		p := newPool(ctx, a)
		exec := execbulk.New(ctx, p, nil)

		opts := xcfg.DefaultExecOptions()
		opts.BatchSize = 50
		res := exec.ExecuteBatches(ctx, "widget", contract.OpUpsert, makeRecords(50), opts, contract.RecordOptions{}, nil)

		Expect(res.SuccessCount).To(Equal(int64(50)))
		Expect(res.FailureCount).To(BeZero())
	})

	It("records permanent per-record failures with their kind and continues when asked", func() {
		a := fake.New("A", 4).WithScript("widget", contract.OpCreate, fake.Script{
			PermanentErrorRecordIDs: map[string]contract.ErrorKind{
				"rec-00003": contract.KindReferenceNotFound,
				"rec-00007": contract.KindDuplicateRecord,
			},
		})
		p := newPool(ctx, a)
		exec := execbulk.New(ctx, p, nil)

		opts := xcfg.DefaultExecOptions()
		opts.ContinueOnError = true
		res := exec.ExecuteBatches(ctx, "widget", contract.OpCreate, makeRecords(20), opts, contract.RecordOptions{}, nil)

		Expect(res.SuccessCount).To(Equal(int64(18)))
		Expect(res.FailureCount).To(Equal(int64(2)))

		kinds := map[xerr.ErrorKind]int{}
		for _, e := range res.Errors {
			kinds[e.Kind]++
		}
		Expect(kinds[xerr.KindReferenceNotFound]).To(Equal(1))
		Expect(kinds[xerr.KindDuplicateRecord]).To(Equal(1))
	})

	It("strips owner fields before sending when asked", func() {
		a := fake.New("A", 4)
		p := newPool(ctx, a)
		exec := execbulk.New(ctx, p, nil)

		recs := []contract.Record{{ID: "r1", Fields: map[string]any{"name": "x", "owner": "user-1", "created_by": "user-2"}}}
		opts := xcfg.DefaultExecOptions()
		res := exec.ExecuteBatches(ctx, "widget", contract.OpCreate, recs, opts, contract.RecordOptions{StripOwnerFields: true}, nil)

		Expect(res.SuccessCount).To(Equal(int64(1)))
		// The caller's record is untouched; only the sent copy was stripped.
		Expect(recs[0].Fields).To(HaveKey("owner"))
	})
})
