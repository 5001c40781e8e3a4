package memio

import (
	"context"
	"strings"
	"testing"

	"github.com/dvbulk/corelib/contract"
)

const sampleSchema = `
entities:
  - name: account
    fields: [name, industry]
  - name: contact
    fields: [name, email]
    relationships:
      - name: account
        target: account
        field: account_id
        mandatory: true
  - name: team_member
    relationships:
      - name: teams
        target: team
        field: team_id
        many_to_many: true
        intersect_entity: team_membership
`

func TestSchemaReaderParsesRelationships(t *testing.T) {
	s, err := NewSchemaReader(strings.NewReader(sampleSchema)).ReadSchema(context.Background())
	if err != nil {
		t.Fatalf("ReadSchema: %v", err)
	}
	if len(s.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(s.Entities))
	}

	contact := s.Entities[1]
	if contact.Name != "contact" || len(contact.Relationships) != 1 {
		t.Fatalf("unexpected contact entity: %+v", contact)
	}
	rel := contact.Relationships[0]
	if rel.Target != "account" || rel.Field != "account_id" || !rel.Mandatory {
		t.Fatalf("unexpected relationship: %+v", rel)
	}

	m2m := s.Entities[2].Relationships[0]
	if !m2m.ManyToMany || m2m.IntersectEntity != "team_membership" {
		t.Fatalf("unexpected many-to-many relationship: %+v", m2m)
	}
}

func TestSchemaMarshalRoundTrip(t *testing.T) {
	s, err := NewSchemaReader(strings.NewReader(sampleSchema)).ReadSchema(context.Background())
	if err != nil {
		t.Fatalf("ReadSchema: %v", err)
	}

	raw, err := MarshalSchema(s)
	if err != nil {
		t.Fatalf("MarshalSchema: %v", err)
	}

	again, err := UnmarshalSchema(raw)
	if err != nil {
		t.Fatalf("UnmarshalSchema: %v", err)
	}
	if len(again.Entities) != len(s.Entities) {
		t.Fatalf("round trip lost entities: %d != %d", len(again.Entities), len(s.Entities))
	}
}

func TestSchemaReaderRejectsUnnamedEntity(t *testing.T) {
	_, err := NewSchemaReader(strings.NewReader("entities:\n  - fields: [a]\n")).ReadSchema(context.Background())
	if err == nil {
		t.Fatal("expected an error for an entity with no name")
	}
}

func TestArchiveAssignsIDsAndStreamsBack(t *testing.T) {
	ctx := context.Background()
	a := NewArchive()

	if err := a.AppendRecord(ctx, "account", record(t, "", "name", "acme")); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if err := a.AppendRecord(ctx, "account", record(t, "fixed-id", "name", "other")); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}

	stream, err := a.OpenEntity(ctx, "account")
	if err != nil {
		t.Fatalf("OpenEntity: %v", err)
	}
	defer stream.Close()

	first, ok, err := stream.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if first.ID == "" {
		t.Fatal("expected a generated id for the first record")
	}

	second, ok, _ := stream.Next(ctx)
	if !ok || second.ID != "fixed-id" {
		t.Fatalf("expected fixed-id, got %+v ok=%v", second, ok)
	}

	if _, ok, _ := stream.Next(ctx); ok {
		t.Fatal("expected stream exhaustion after two records")
	}
}

func TestArchiveUnknownEntityIsEmptyStream(t *testing.T) {
	ctx := context.Background()
	stream, err := NewArchive().OpenEntity(ctx, "nope")
	if err != nil {
		t.Fatalf("OpenEntity: %v", err)
	}
	if _, ok, _ := stream.Next(ctx); ok {
		t.Fatal("expected an empty stream for an unknown entity")
	}
}

func record(t *testing.T, id string, kv ...string) contract.Record {
	t.Helper()
	r := contract.Record{ID: id, Fields: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields[kv[i]] = kv[i+1]
	}
	return r
}
