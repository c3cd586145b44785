// Package schematest builds compiled schemas for tests.
package schematest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"specforge/internal/metadata"
	"specforge/internal/specdoc"
)

// Catalog is the type catalogue shared by the fixture entities.
const Catalog = `
patterns:
  - name: ProjectCode
    regex: '^[A-Z]{3}[0-9]{3}$'
    example: AAA000
enums:
  - name: Status
    values:
      - {internal: A, external: Active, description: in use}
      - {internal: I, external: Inactive}
aggregates:
  - name: Address
    render: '{street}, {zip} {city}'
    fields:
      - {name: street, type: text}
      - {name: zip, type: text}
      - {name: city, type: text}
`

// Client has a plain label column plus a secondary label.
const Client = `# Client
Area: Sales #43A047

| Attribute | Type | Description | Example |
|---|---|---|---|
| name | text [LABEL] [UNIQUE] | Client name | Acme Corp |
| short | text [LABEL2] [OPTIONAL] | Short name | ACME |
| status | Status [OPTIONAL] | | Active |
| address | Address [OPTIONAL] | Postal address | |
`

// Employee references itself through an optional manager.
const Employee = `# Employee

| Attribute | Type | Description | Example |
|---|---|---|---|
| name | text [LABEL] [UNIQUE] | | Jane Doe |
| email | text [OPTIONAL] | | |
| manager | Employee [OPTIONAL] | | |
`

// Project carries a concat label.
const Project = `# Project
Area: Delivery #1E88E5
[LABEL=concat(client, '-', code)]

| Attribute | Type | Description | Example |
|---|---|---|---|
| client | text [UK1] | Client name | Acme Corp |
| code | ProjectCode [UK1] | Project code [INDEX] | PRJ001 |
| manager | Employee [OPTIONAL] | Responsible person | |
| budget | real [MIN=0] [OPTIONAL] [NULL=0] | | 1000 |
| open_tasks | integer [DAILY=count(Task.project)] | | |

## Constraints
- budget_cap (budget): budget <= 1000000.0
`

// Task requires a project.
const Task = `# Task

| Attribute | Type | Description | Example |
|---|---|---|---|
| title | text [LABEL] [UNIQUE] | | Kickoff |
| project | Project | | Acme Corp-PRJ001 |
| assignee | Employee [OPTIONAL] | | |
| hours | real [MIN=0] [MAX=24] [OPTIONAL] | | 2 |
| status | Status | | A |
`

// Documents parses entity documents given as Markdown text.
func Documents(tb testing.TB, docs ...string) []*specdoc.Document {
	tb.Helper()
	out := make([]*specdoc.Document, 0, len(docs))
	for i, d := range docs {
		doc, err := specdoc.Parse(fmt.Sprintf("doc%d.md", i), strings.NewReader(d))
		if err != nil {
			tb.Fatalf("parse document %d: %v", i, err)
		}
		out = append(out, doc)
	}
	return out
}

// Compile compiles docs against a catalogue given as YAML text.
func Compile(tb testing.TB, catalogYAML string, docs ...string) *metadata.Schema {
	tb.Helper()
	cat, err := metadata.LoadCatalog(strings.NewReader(catalogYAML))
	if err != nil {
		tb.Fatalf("load catalogue: %v", err)
	}
	s, err := metadata.NewCompiler(cat).Compile(context.Background(), Documents(tb, docs...))
	if err != nil {
		tb.Fatalf("compile: %v", err)
	}
	return s
}

// Fixture compiles Client, Employee, Project and Task.
func Fixture(tb testing.TB) *metadata.Schema {
	tb.Helper()
	return Compile(tb, Catalog, Client, Employee, Project, Task)
}
