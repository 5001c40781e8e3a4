package importer_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/contract/fake"
	"github.com/dvbulk/corelib/execbulk"
	"github.com/dvbulk/corelib/importer"
	"github.com/dvbulk/corelib/memio"
	"github.com/dvbulk/corelib/pool"
	"github.com/dvbulk/corelib/source"
	"github.com/dvbulk/corelib/xcfg"
)

func TestImporter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "importer suite")
}

type constFactory struct{ c *fake.Client }

func (f constFactory) NewSeedClient(ctx context.Context) (contract.ServiceClient, error) {
	return f.c, nil
}

func newImporter(ctx context.Context, clients ...*fake.Client) *importer.Importer {
	sources := make([]source.Source, 0, len(clients))
	for _, c := range clients {
		s, err := source.New(ctx, source.Config{Name: c.SourceName, Factory: constFactory{c: c}})
		Expect(err).NotTo(HaveOccurred())
		sources = append(sources, s)
	}
	p, err := pool.New(xcfg.DefaultPoolConfig(), sources, nil)
	Expect(err).NotTo(HaveOccurred())
	return importer.New(execbulk.New(ctx, p, nil), nil)
}

// recordingSink captures events in arrival order for assertions.
type recordingSink struct {
	mu     sync.Mutex
	phases []contract.PhaseKind
	errs   []contract.ErrorEvent
	result *contract.MigrationResult
}

func (r *recordingSink) Phase(kind contract.PhaseKind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, kind)
}
func (r *recordingSink) Progress(ev contract.ProgressEvent) {}
func (r *recordingSink) Warning(msg string)                 {}
func (r *recordingSink) Info(msg string)                    {}
func (r *recordingSink) Error(ev contract.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, ev)
}
func (r *recordingSink) Complete(result contract.MigrationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = &result
}

func (r *recordingSink) phaseList() []contract.PhaseKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contract.PhaseKind(nil), r.phases...)
}

func buildArchive(ctx context.Context, schema contract.MigrationSchema, records map[string][]contract.Record) *memio.Archive {
	a := memio.NewArchive()
	Expect(a.WriteSchema(ctx, schema)).To(Succeed())
	for entity, recs := range records {
		for _, rec := range recs {
			Expect(a.AppendRecord(ctx, entity, rec)).To(Succeed())
		}
	}
	return a
}

func genRecords(prefix string, n int) []contract.Record {
	recs := make([]contract.Record, n)
	for i := range recs {
		recs[i] = contract.Record{ID: fmt.Sprintf("%s-%04d", prefix, i), Fields: map[string]any{"name": fmt.Sprintf("%s %d", prefix, i)}}
	}
	return recs
}

var _ = Describe("Importer", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("imports a two-tier package in dependency order with upsert by default", func() {
		schema := contract.MigrationSchema{Entities: []contract.EntitySchema{
			{Name: "account"},
			{Name: "contact", Relationships: []contract.Relationship{
				{Name: "account", Target: "account", Field: "account_id", Mandatory: true},
			}},
		}}
		archive := buildArchive(ctx, schema, map[string][]contract.Record{
			"account": genRecords("acct", 40),
			"contact": genRecords("cont", 60),
		})

		client := fake.New("A", 4)
		im := newImporter(ctx, client)
		sink := &recordingSink{}

		res, err := im.Run(ctx, archive, importer.Options{
			Importer: xcfg.DefaultImporterOptions(),
			Exec:     xcfg.DefaultExecOptions(),
			Sink:     sink,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.SuccessCount).To(Equal(int64(100)))
		Expect(res.FailureCount).To(BeZero())
		Expect(res.Cancelled).To(BeFalse())

		// Default import mode is upsert.
		Expect(client.BulkCalls("account", contract.OpUpsert)).To(BeNumerically(">", int64(0)))
		Expect(client.BulkCalls("contact", contract.OpUpsert)).To(BeNumerically(">", int64(0)))

		// One Importing phase per tier, bracketed by Analyzing and Complete.
		phases := sink.phaseList()
		Expect(phases[0]).To(Equal(contract.PhaseAnalyzing))
		Expect(phases[len(phases)-1]).To(Equal(contract.PhaseComplete))
		importing := 0
		for _, p := range phases {
			if p == contract.PhaseImporting {
				importing++
			}
		}
		Expect(importing).To(Equal(2))
	})

	It("breaks a circular reference by deferring the optional edge and writing it last", func() {
		schema := contract.MigrationSchema{Entities: []contract.EntitySchema{
			{Name: "contact", Relationships: []contract.Relationship{
				{Name: "primary_account", Target: "account", Field: "primary_account", Mandatory: true},
			}},
			{Name: "account", Relationships: []contract.Relationship{
				{Name: "primary_contact", Target: "contact", Field: "primary_contact", Mandatory: false},
			}},
		}}
		archive := buildArchive(ctx, schema, map[string][]contract.Record{
			"account": {{ID: "acct-1", Fields: map[string]any{"name": "acme", "primary_contact": "cont-1"}}},
			"contact": {{ID: "cont-1", Fields: map[string]any{"name": "jo", "primary_account": "acct-1"}}},
		})

		client := fake.New("A", 4)
		im := newImporter(ctx, client)
		sink := &recordingSink{}

		res, err := im.Run(ctx, archive, importer.Options{
			Importer: xcfg.DefaultImporterOptions(),
			Exec:     xcfg.DefaultExecOptions(),
			Sink:     sink,
		})

		Expect(err).NotTo(HaveOccurred())
		// account + contact in tiers, then one deferred update for account.
		Expect(res.SuccessCount).To(Equal(int64(3)))
		Expect(client.BulkCalls("account", contract.OpUpdate) + client.SingleCalls("account", contract.OpUpdate)).To(BeNumerically(">", int64(0)))
		Expect(sink.phaseList()).To(ContainElement(contract.PhaseDeferredPass))
	})

	It("records failures and keeps going when continue_on_error is set", func() {
		schema := contract.MigrationSchema{Entities: []contract.EntitySchema{
			{Name: "account"},
			{Name: "contact", Relationships: []contract.Relationship{
				{Name: "account", Target: "account", Field: "account_id", Mandatory: true},
			}},
		}}
		archive := buildArchive(ctx, schema, map[string][]contract.Record{
			"account": genRecords("acct", 10),
			"contact": genRecords("cont", 10),
		})

		client := fake.New("A", 4).WithScript("account", contract.OpUpsert, fake.Script{
			PermanentErrorRecordIDs: map[string]contract.ErrorKind{"acct-0003": contract.KindRequiredFieldMissing},
		})
		im := newImporter(ctx, client)

		iopts := xcfg.DefaultImporterOptions()
		iopts.ContinueOnError = true
		eopts := xcfg.DefaultExecOptions()
		eopts.ContinueOnError = true

		res, err := im.Run(ctx, archive, importer.Options{Importer: iopts, Exec: eopts})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.FailureCount).To(Equal(int64(1)))
		Expect(res.SuccessCount).To(Equal(int64(19)))
		Expect(res.ErrorPatterns[contract.KindRequiredFieldMissing]).To(Equal(int64(1)))
		// The dependent tier still ran.
		Expect(client.BulkCalls("contact", contract.OpUpsert)).To(BeNumerically(">", int64(0)))
	})

	It("aborts before dependent tiers when an entity fails and continue_on_error is unset", func() {
		schema := contract.MigrationSchema{Entities: []contract.EntitySchema{
			{Name: "account"},
			{Name: "contact", Relationships: []contract.Relationship{
				{Name: "account", Target: "account", Field: "account_id", Mandatory: true},
			}},
		}}
		archive := buildArchive(ctx, schema, map[string][]contract.Record{
			"account": genRecords("acct", 5),
			"contact": genRecords("cont", 5),
		})

		client := fake.New("A", 4).WithScript("account", contract.OpUpsert, fake.Script{
			PermanentErrorRecordIDs: map[string]contract.ErrorKind{"acct-0000": contract.KindPermissionDenied},
		})
		im := newImporter(ctx, client)

		res, err := im.Run(ctx, archive, importer.Options{
			Importer: xcfg.DefaultImporterOptions(),
			Exec:     xcfg.DefaultExecOptions(),
		})

		Expect(err).To(HaveOccurred())
		Expect(res.FailureCount).To(BeNumerically(">", int64(0)))
		Expect(client.BulkCalls("contact", contract.OpUpsert)).To(BeZero())
		Expect(client.SingleCalls("contact", contract.OpUpsert)).To(BeZero())
	})

	It("reports Cancelled and never starts the dependent tier when cancelled mid-run", func() {
		schema := contract.MigrationSchema{Entities: []contract.EntitySchema{
			{Name: "slow"},
			{Name: "child", Relationships: []contract.Relationship{
				{Name: "slow", Target: "slow", Field: "slow_id", Mandatory: true},
			}},
		}}
		archive := buildArchive(ctx, schema, map[string][]contract.Record{
			"slow":  genRecords("slow", 20),
			"child": genRecords("chld", 20),
		})

		// Every call against "slow" throttles for far longer than the test
		// runs, so the run parks in throttle-recovery until cancellation.
		client := fake.New("A", 4).WithScript("slow", contract.OpUpsert, fake.Script{
			ThrottleAlways: true,
			RetryAfter:     time.Hour,
		})
		im := newImporter(ctx, client)

		cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		res, err := im.Run(cctx, archive, importer.Options{
			Importer: xcfg.DefaultImporterOptions(),
			Exec:     xcfg.DefaultExecOptions(),
		})

		Expect(err).To(HaveOccurred())
		Expect(res.Cancelled).To(BeTrue())
		Expect(client.BulkCalls("child", contract.OpUpsert)).To(BeZero())
		Expect(client.SingleCalls("child", contract.OpUpsert)).To(BeZero())
	})
})
