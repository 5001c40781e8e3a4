/*
 * MIT License
 *
 * Copyright (c) 2026 The corelib Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package memio

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dvbulk/corelib/contract"
)

type yamlRelationship struct {
	Name            string `yaml:"name"`
	Target          string `yaml:"target"`
	Field           string `yaml:"field"`
	Mandatory       bool   `yaml:"mandatory"`
	ManyToMany      bool   `yaml:"many_to_many"`
	IntersectEntity string `yaml:"intersect_entity,omitempty"`
}

type yamlEntity struct {
	Name          string             `yaml:"name"`
	Fields        []string           `yaml:"fields,omitempty"`
	Relationships []yamlRelationship `yaml:"relationships,omitempty"`
}

// yamlSchema is the on-the-wire shape of the reference schema document.
type yamlSchema struct {
	Entities []yamlEntity `yaml:"entities"`
}

// SchemaReader parses a YAML migration schema into the contract shape the
// graph builder consumes.
type SchemaReader struct {
	src io.Reader
}

// NewSchemaReader returns a SchemaReader over src.
func NewSchemaReader(src io.Reader) *SchemaReader {
	return &SchemaReader{src: src}
}

// ReadSchema implements contract.SchemaReader.
func (r *SchemaReader) ReadSchema(ctx context.Context) (contract.MigrationSchema, error) {
	if err := ctx.Err(); err != nil {
		return contract.MigrationSchema{}, err
	}

	raw, err := io.ReadAll(r.src)
	if err != nil {
		return contract.MigrationSchema{}, fmt.Errorf("memio: reading schema document: %w", err)
	}
	return UnmarshalSchema(raw)
}

// UnmarshalSchema parses a YAML schema document.
func UnmarshalSchema(raw []byte) (contract.MigrationSchema, error) {
	var doc yamlSchema
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return contract.MigrationSchema{}, fmt.Errorf("memio: parsing schema document: %w", err)
	}

	out := contract.MigrationSchema{Entities: make([]contract.EntitySchema, 0, len(doc.Entities))}
	for _, e := range doc.Entities {
		if e.Name == "" {
			return contract.MigrationSchema{}, fmt.Errorf("memio: schema entity with empty name")
		}
		es := contract.EntitySchema{Name: e.Name, Fields: e.Fields}
		for _, rel := range e.Relationships {
			es.Relationships = append(es.Relationships, contract.Relationship(rel))
		}
		out.Entities = append(out.Entities, es)
	}

	return out, nil
}

// MarshalSchema renders schema back to the YAML shape UnmarshalSchema
// accepts, used by the disk archive writer.
func MarshalSchema(schema contract.MigrationSchema) ([]byte, error) {
	doc := yamlSchema{Entities: make([]yamlEntity, 0, len(schema.Entities))}
	for _, e := range schema.Entities {
		ye := yamlEntity{Name: e.Name, Fields: e.Fields}
		for _, rel := range e.Relationships {
			ye.Relationships = append(ye.Relationships, yamlRelationship(rel))
		}
		doc.Entities = append(doc.Entities, ye)
	}
	return yaml.Marshal(doc)
}

var _ contract.SchemaReader = (*SchemaReader)(nil)
