package specdoc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"specforge/internal/core/apperror"
)

var (
	headingRe    = regexp.MustCompile(`^#\s+(\S.*)$`)
	sectionRe    = regexp.MustCompile(`^##\s+(\S.*)$`)
	areaRe       = regexp.MustCompile(`(?i)^area\s*:\s*(.*?)\s*(#[0-9A-Fa-f]{6})?\s*$`)
	entityNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	attrNameRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	separatorRe  = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
	constraintRe = regexp.MustCompile(`^[-*]\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)\s*:\s*(.+)$`)
)

type section int

const (
	secBody section = iota
	secConstraints
	secBridge
	secGenerator
	secCompletion
	secOther
)

func sectionOf(title string) section {
	switch strings.ToLower(strings.TrimSpace(title)) {
	case "constraints":
		return secConstraints
	case "bridge":
		return secBridge
	case "generator":
		return secGenerator
	case "completion":
		return secCompletion
	case "attributes":
		return secBody
	}
	return secOther
}

// table column slots, located by header names
type columns struct {
	name, typ, desc, example int
}

func headerColumns(cells []string) (columns, bool) {
	cols := columns{name: -1, typ: -1, desc: -1, example: -1}
	for i, c := range cells {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "attribute", "name", "field":
			cols.name = i
		case "type":
			cols.typ = i
		case "description":
			cols.desc = i
		case "example":
			cols.example = i
		}
	}
	return cols, cols.name >= 0 && cols.typ >= 0
}

// Parse reads one entity document. source names the document in errors.
func Parse(source string, r io.Reader) (*Document, error) {
	doc := &Document{Source: source}
	p := &parser{doc: doc, source: source, sec: secBody}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line++
		if err := p.handle(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperror.NewParse(source, p.line, "read failed").WithCause(err)
	}
	p.flushOpaque()

	if doc.Name == "" {
		return nil, apperror.NewParse(source, 0, "document has no '# Entity' heading")
	}
	if len(doc.Attributes) == 0 {
		return nil, apperror.NewParse(source, 0, "entity has no attributes").WithDetail("entity", doc.Name)
	}
	return doc, nil
}

type parser struct {
	doc    *Document
	source string
	line   int
	sec    section

	inTable bool
	cols    columns
	seen    map[string]int

	opaque []string
}

func (p *parser) errorf(format string, args ...any) error {
	e := apperror.NewParse(p.source, p.line, fmt.Sprintf(format, args...))
	if p.doc.Name != "" {
		e.WithDetail("entity", p.doc.Name)
	}
	return e
}

func (p *parser) handle(raw string) error {
	line := strings.TrimSpace(raw)

	if m := sectionRe.FindStringSubmatch(line); m != nil {
		p.flushOpaque()
		p.inTable = false
		p.sec = sectionOf(m[1])
		return nil
	}

	switch p.sec {
	case secBridge, secGenerator, secCompletion:
		p.opaque = append(p.opaque, raw)
		return nil
	case secOther:
		return nil
	case secConstraints:
		return p.constraint(line)
	}

	if line == "" {
		p.inTable = false
		return nil
	}

	if m := headingRe.FindStringSubmatch(line); m != nil {
		if p.doc.Name != "" {
			return p.errorf("second entity heading %q; one entity per document", m[1])
		}
		name := strings.TrimSpace(m[1])
		if !entityNameRe.MatchString(name) {
			return p.errorf("invalid entity name %q", name)
		}
		p.doc.Name = name
		return nil
	}

	if strings.HasPrefix(line, "|") {
		return p.tableRow(line)
	}

	if m := areaRe.FindStringSubmatch(line); m != nil {
		p.doc.Area = Area{Name: m[1], Color: strings.ToUpper(m[2])}
		return nil
	}

	if strings.HasPrefix(line, "[") {
		return p.directives(line)
	}
	return nil
}

// directives handles entity-level bracket lines such as [LABEL=concat(...)].
func (p *parser) directives(line string) error {
	tokens, rest, err := extractBrackets(line)
	if err != nil {
		return p.errorf("%v", err)
	}
	if rest != "" {
		return p.errorf("unexpected text %q after entity directive", rest)
	}
	for _, tok := range tokens {
		ann, err := ParseAnnotation(tok)
		if err != nil {
			return p.errorf("%v", err)
		}
		if ann.Kind != AnnLabelConcat {
			return p.errorf("annotation [%s] is not an entity-level directive", ann.Raw)
		}
		if err := p.setLabel(ann); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) setLabel(ann Annotation) error {
	if p.doc.Label != nil {
		return p.errorf("entity declares more than one LABEL=concat(...) expression")
	}
	p.doc.Label = ann.Label
	return nil
}

func (p *parser) tableRow(line string) error {
	if p.doc.Name == "" {
		return p.errorf("attribute table before the entity heading")
	}
	if separatorRe.MatchString(line) {
		return nil
	}
	cells := splitRow(line)
	if !p.inTable {
		cols, ok := headerColumns(cells)
		if !ok {
			return p.errorf("table header must name Attribute and Type columns")
		}
		p.cols = cols
		p.inTable = true
		return nil
	}

	cell := func(i int) string {
		if i < 0 || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	attr := Attribute{Name: cell(p.cols.name), Example: cell(p.cols.example), Line: p.line}
	if attr.Name == "" {
		return nil
	}
	if !attrNameRe.MatchString(attr.Name) {
		return p.errorf("invalid attribute name %q", attr.Name)
	}
	if p.seen == nil {
		p.seen = make(map[string]int)
	}
	key := strings.ToLower(attr.Name)
	if prev, dup := p.seen[key]; dup {
		return p.errorf("attribute %q already declared on line %d", attr.Name, prev)
	}
	p.seen[key] = p.line

	// annotations may sit in the Type or the Description slot
	typeTokens, typeName, err := extractBrackets(cell(p.cols.typ))
	if err != nil {
		return p.errorf("%v", err)
	}
	descTokens, desc, err := extractBrackets(cell(p.cols.desc))
	if err != nil {
		return p.errorf("%v", err)
	}
	if typeName == "" {
		return p.errorf("attribute %q has no type", attr.Name)
	}
	if strings.ContainsAny(typeName, " \t") {
		return p.errorf("attribute %q: type %q must be a single name", attr.Name, typeName)
	}
	attr.TypeName = typeName
	attr.Description = desc

	for _, tok := range append(typeTokens, descTokens...) {
		ann, err := ParseAnnotation(tok)
		if err != nil {
			return p.errorf("attribute %q: %v", attr.Name, err)
		}
		if ann.Kind == AnnLabelConcat {
			if err := p.setLabel(ann); err != nil {
				return err
			}
			continue
		}
		attr.Annotations = append(attr.Annotations, ann)
	}
	p.doc.Attributes = append(p.doc.Attributes, attr)
	return nil
}

// splitRow splits a Markdown table row on pipes outside brackets.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	var cells []string
	var buf strings.Builder
	depth := 0
	for _, r := range line {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case r == '|' && depth == 0:
			cells = append(cells, buf.String())
			buf.Reset()
			continue
		}
		buf.WriteRune(r)
	}
	return append(cells, buf.String())
}

func (p *parser) constraint(line string) error {
	if line == "" {
		return nil
	}
	m := constraintRe.FindStringSubmatch(line)
	if m == nil {
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			return p.errorf("malformed constraint %q, want '- code (field, ...): expression'", line)
		}
		return nil
	}
	var fields []string
	for _, f := range strings.Split(m[2], ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !attrNameRe.MatchString(f) {
			return p.errorf("constraint %s: invalid field name %q", m[1], f)
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return p.errorf("constraint %s names no fields", m[1])
	}
	p.doc.Constraints = append(p.doc.Constraints, Constraint{
		Code:   m[1],
		Fields: fields,
		Expr:   strings.TrimSpace(m[3]),
		Line:   p.line,
	})
	return nil
}

func (p *parser) flushOpaque() {
	body := strings.TrimSpace(strings.Join(p.opaque, "\n"))
	p.opaque = nil
	switch p.sec {
	case secBridge:
		p.doc.Bridge = body
	case secGenerator:
		p.doc.Generator = body
	case secCompletion:
		p.doc.Completion = body
	}
}

// ParseFile parses one document from disk.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.NewParse(path, 0, "cannot open document").WithCause(err)
	}
	defer f.Close()
	return Parse(filepath.Base(path), f)
}

// ParseDir parses every *.md document of dir in file name order.
func ParseDir(ctx context.Context, dir string) ([]*Document, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	docs := make([]*Document, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Base(path), "README.md") {
			continue
		}
		doc, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
