package importer_test

import (
	"context"
	"fmt"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/contract/fake"
	"github.com/dvbulk/corelib/execbulk"
	"github.com/dvbulk/corelib/importer"
	"github.com/dvbulk/corelib/memio"
	"github.com/dvbulk/corelib/pool"
	"github.com/dvbulk/corelib/source"
	"github.com/dvbulk/corelib/xcfg"
)

type exampleFactory struct{ c *fake.Client }

func (f exampleFactory) NewSeedClient(ctx context.Context) (contract.ServiceClient, error) {
	return f.c, nil
}

// Example shows a complete in-memory import: one source, two dependent
// entities, default options.
func Example() {
	ctx := context.Background()

	archive := memio.NewArchive()
	_ = archive.WriteSchema(ctx, contract.MigrationSchema{Entities: []contract.EntitySchema{
		{Name: "account"},
		{Name: "contact", Relationships: []contract.Relationship{
			{Name: "account", Target: "account", Field: "account_id", Mandatory: true},
		}},
	}})
	_ = archive.AppendRecord(ctx, "account", contract.Record{ID: "a1", Fields: map[string]any{"name": "acme"}})
	_ = archive.AppendRecord(ctx, "contact", contract.Record{ID: "c1", Fields: map[string]any{"name": "jo", "account_id": "a1"}})

	src, err := source.New(ctx, source.Config{
		Name:    "main",
		Factory: exampleFactory{c: fake.New("main", 4)},
	})
	if err != nil {
		panic(err)
	}

	p, err := pool.New(xcfg.DefaultPoolConfig(), []source.Source{src}, nil)
	if err != nil {
		panic(err)
	}
	defer p.Close()

	im := importer.New(execbulk.New(ctx, p, nil), nil)
	res, err := im.Run(ctx, archive, importer.Options{
		Importer: xcfg.DefaultImporterOptions(),
		Exec:     xcfg.DefaultExecOptions(),
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("%d ok, %d failed\n", res.SuccessCount, res.FailureCount)
	// Output: 2 ok, 0 failed
}
