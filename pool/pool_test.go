package pool_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/contract/fake"
	"github.com/dvbulk/corelib/pool"
	"github.com/dvbulk/corelib/source"
	"github.com/dvbulk/corelib/xcfg"
)

func TestPool(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "pool suite")
}

// constFactory hands out a fixed fake client as the seed for one source.
type constFactory struct{ c *fake.Client }

func (f constFactory) NewSeedClient(ctx context.Context) (contract.ServiceClient, error) {
	return f.c, nil
}

func newTestSource(ctx context.Context, name string, dop int) source.Source {
	s, err := source.New(ctx, source.Config{
		Name:    name,
		Factory: constFactory{c: fake.New(name, dop)},
	})
	Expect(err).NotTo(HaveOccurred())
	return s
}

var _ = Describe("Pool acquisition", func() {
	It("sums per-source DOP into total admitted parallelism", func() {
		ctx := context.Background()

		srcA := newTestSource(ctx, "A", 2)
		srcB := newTestSource(ctx, "B", 2)

		p, err := pool.New(xcfg.DefaultPoolConfig(), []source.Source{srcA, srcB}, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(p.TotalParallelism()).To(Equal(4))

		c1, err := p.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		c2, err := p.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())

		p.Release(c1)
		p.Release(c2)
	})

	It("routes around a throttled source without blocking the other", func() {
		ctx := context.Background()

		srcA := newTestSource(ctx, "A", 1)
		srcB := newTestSource(ctx, "B", 1)

		p, err := pool.New(xcfg.DefaultPoolConfig(), []source.Source{srcA, srcB}, nil)
		Expect(err).NotTo(HaveOccurred())

		p.RecordThrottle("A", 30*time.Second)

		done := make(chan struct{})
		go func() {
			defer close(done)
			c, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SourceName).To(Equal("B"))
			p.Release(c)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			Fail("acquire against non-throttled source B blocked unexpectedly")
		}
	})

	It("fails fast with ThrottleExceedsTolerance when the only source's wait exceeds tolerance", func() {
		ctx := context.Background()

		srcA := newTestSource(ctx, "A", 1)

		cfg := xcfg.DefaultPoolConfig()
		cfg.MaxRetryAfterTolerance = 10 * time.Second

		p, err := pool.New(cfg, []source.Source{srcA}, nil)
		Expect(err).NotTo(HaveOccurred())

		p.RecordThrottle("A", 60*time.Second)

		_, err = p.Acquire(ctx)
		Expect(err).To(HaveOccurred())
	})

	It("never lets more than max_dop clients be in use per source at once", func() {
		ctx := context.Background()
		srcA := newTestSource(ctx, "A", 1)

		p, err := pool.New(xcfg.DefaultPoolConfig(), []source.Source{srcA}, nil)
		Expect(err).NotTo(HaveOccurred())

		c1, err := p.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())

		acquired := make(chan struct{})
		go func() {
			c2, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			close(acquired)
			p.Release(c2)
		}()

		select {
		case <-acquired:
			Fail("second acquire against a max_dop=1 source should have blocked")
		case <-time.After(100 * time.Millisecond):
		}

		p.Release(c1)
		Eventually(acquired, 2*time.Second).Should(BeClosed())
	})
})
