package depgraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dvbulk/corelib/contract"
)

func TestLinearChainTiers(t *testing.T) {
	schema := contract.MigrationSchema{
		Entities: []contract.EntitySchema{
			{Name: "account"},
			{Name: "contact", Relationships: []contract.Relationship{
				{Name: "account", Target: "account", Field: "account_id", Mandatory: true},
			}},
		},
	}

	g, err := Build(schema)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(g.Tiers) != 2 {
		t.Fatalf("expected 2 tiers for a linear chain, got %d: %v", len(g.Tiers), g.Tiers)
	}
	if g.Tiers[0][0] != "account" || g.Tiers[1][0] != "contact" {
		t.Fatalf("expected [account] then [contact], got %v", g.Tiers)
	}
}

func TestCircularReferenceDefersOptionalEdge(t *testing.T) {
	schema := contract.MigrationSchema{
		Entities: []contract.EntitySchema{
			{
				Name: "contact",
				Relationships: []contract.Relationship{
					{Name: "primary_account", Target: "account", Field: "primary_account", Mandatory: true},
				},
			},
			{
				Name: "account",
				Relationships: []contract.Relationship{
					{Name: "primary_contact", Target: "contact", Field: "primary_contact", Mandatory: false},
				},
			},
		},
	}

	g, err := Build(schema)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(g.CircularRefs) != 1 {
		t.Fatalf("expected exactly one deferred edge, got %d", len(g.CircularRefs))
	}
	def := g.CircularRefs[0]
	if def.From != "account" || def.Field != "primary_contact" {
		t.Fatalf("expected deferred edge account.primary_contact, got %s.%s", def.From, def.Field)
	}

	if len(g.Tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %d: %v", len(g.Tiers), g.Tiers)
	}
	if g.Tiers[0][0] != "account" {
		t.Fatalf("expected tier 0 = [account], got %v", g.Tiers[0])
	}
	if g.Tiers[1][0] != "contact" {
		t.Fatalf("expected tier 1 = [contact], got %v", g.Tiers[1])
	}

	if fields := g.DeferredFields["account"]; len(fields) != 1 || fields[0] != "primary_contact" {
		t.Fatalf("expected account.primary_contact in deferred fields, got %v", fields)
	}
}

func TestEveryCycleHasADeferredEdge(t *testing.T) {
	schema := contract.MigrationSchema{
		Entities: []contract.EntitySchema{
			{Name: "a", Relationships: []contract.Relationship{{Name: "r", Target: "b", Field: "b_id"}}},
			{Name: "b", Relationships: []contract.Relationship{{Name: "r", Target: "c", Field: "c_id"}}},
			{Name: "c", Relationships: []contract.Relationship{{Name: "r", Target: "a", Field: "a_id"}}},
		},
	}

	g, err := Build(schema)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(g.CircularRefs) == 0 {
		t.Fatal("expected at least one deferred edge for the 3-cycle")
	}

	union := map[string]bool{}
	for _, tier := range g.Tiers {
		for _, e := range tier {
			union[e] = true
		}
	}
	for _, e := range schema.Entities {
		if !union[e.Name] {
			t.Fatalf("entity %q missing from tiers", e.Name)
		}
	}
}

func TestManyToManyProducesIntersectEntity(t *testing.T) {
	schema := contract.MigrationSchema{
		Entities: []contract.EntitySchema{
			{Name: "student"},
			{Name: "course"},
			{
				Name: "enrollment_source",
				Relationships: []contract.Relationship{
					{Name: "enrollment", Target: "course", Field: "course_id", ManyToMany: true, IntersectEntity: "enrollment"},
				},
			},
		},
	}

	g, err := Build(schema)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	found := false
	for _, tier := range g.Tiers {
		for _, n := range tier {
			if n == "enrollment" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected intersect entity 'enrollment' to appear in tiers")
	}
}

func TestDeterministicTiering(t *testing.T) {
	schema := contract.MigrationSchema{
		Entities: []contract.EntitySchema{
			{Name: "account", Relationships: []contract.Relationship{
				{Name: "primary_contact", Target: "contact", Field: "primary_contact"},
			}},
			{Name: "contact", Relationships: []contract.Relationship{
				{Name: "account", Target: "account", Field: "account_id", Mandatory: true},
			}},
			{Name: "task", Relationships: []contract.Relationship{
				{Name: "regarding", Target: "contact", Field: "regarding_id"},
			}},
		},
	}

	g1, err := Build(schema)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g2, err := Build(schema)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if diff := cmp.Diff(g1.Tiers, g2.Tiers); diff != "" {
		t.Fatalf("tiering is not deterministic across builds (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(g1.DeferredFields, g2.DeferredFields); diff != "" {
		t.Fatalf("deferred-field selection is not deterministic (-first +second):\n%s", diff)
	}
}
