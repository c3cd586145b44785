package specdoc

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnknownAnnotation is returned for bracket tokens outside the closed set.
var ErrUnknownAnnotation = errors.New("unknown annotation")

// AnnotationKind is the closed set of bracket annotations.
type AnnotationKind string

const (
	AnnUnique     AnnotationKind = "UNIQUE"
	AnnUniqueKey  AnnotationKind = "UK"
	AnnIndex      AnnotationKind = "INDEX"
	AnnIndexGroup AnnotationKind = "IX"
	AnnOptional   AnnotationKind = "OPTIONAL"
	AnnDefault    AnnotationKind = "DEFAULT"
	AnnLabel      AnnotationKind = "LABEL"
	AnnLabel2     AnnotationKind = "LABEL2"
	// AnnLabelConcat is LABEL=concat(...); entity-level wherever it is written.
	AnnLabelConcat AnnotationKind = "LABEL=concat"
	AnnDaily       AnnotationKind = "DAILY"
	AnnImmediate   AnnotationKind = "IMMEDIATE"
	AnnHourly      AnnotationKind = "HOURLY"
	AnnOnDemand    AnnotationKind = "ON_DEMAND"
	AnnNull        AnnotationKind = "NULL"
	AnnMin         AnnotationKind = "MIN"
	AnnMax         AnnotationKind = "MAX"

	// UI hints, carried through without interpretation.
	AnnTruncate AnnotationKind = "TRUNCATE"
	AnnHidden   AnnotationKind = "HIDDEN"
	AnnReadOnly AnnotationKind = "READONLY"
	AnnTooltip  AnnotationKind = "TOOLTIP"
	AnnNoPrint  AnnotationKind = "NOPRINT"
)

// IsSchedule reports whether k is a computed-field schedule tag.
func (k AnnotationKind) IsSchedule() bool {
	switch k {
	case AnnDaily, AnnImmediate, AnnHourly, AnnOnDemand:
		return true
	}
	return false
}

// IsUIHint reports whether k is an opaque UI hint.
func (k AnnotationKind) IsUIHint() bool {
	switch k {
	case AnnTruncate, AnnHidden, AnnReadOnly, AnnTooltip, AnnNoPrint:
		return true
	}
	return false
}

// Annotation is one parsed bracket token.
type Annotation struct {
	Kind AnnotationKind
	// Group is n of UKn / IXn.
	Group int
	Value string
	// Label holds the parsed parts of LABEL=concat(...).
	Label []LabelPart
	Raw   string
}

// LabelPart is one argument of concat(...): a field reference or a quoted literal.
type LabelPart struct {
	Field   string
	Literal string
}

// IsLiteral reports whether the part is a literal separator.
func (p LabelPart) IsLiteral() bool { return p.Field == "" }

var groupRe = regexp.MustCompile(`^(UK|IX)([0-9]+)$`)

type valueRule int

const (
	noValue valueRule = iota
	needsValue
)

var annotationRules = map[AnnotationKind]valueRule{
	AnnUnique:    noValue,
	AnnIndex:     noValue,
	AnnOptional:  noValue,
	AnnLabel:     noValue,
	AnnLabel2:    noValue,
	AnnHidden:    noValue,
	AnnReadOnly:  noValue,
	AnnNoPrint:   noValue,
	AnnDefault:   needsValue,
	AnnDaily:     needsValue,
	AnnImmediate: needsValue,
	AnnHourly:    needsValue,
	AnnOnDemand:  needsValue,
	AnnNull:      needsValue,
	AnnMin:       needsValue,
	AnnMax:       needsValue,
	AnnTruncate:  needsValue,
	AnnTooltip:   needsValue,
}

// ParseAnnotation parses the text between one pair of brackets.
func ParseAnnotation(token string) (Annotation, error) {
	raw := strings.TrimSpace(token)
	key, value, hasValue := strings.Cut(raw, "=")
	key = strings.ToUpper(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	ann := Annotation{Raw: raw, Value: value}

	if m := groupRe.FindStringSubmatch(key); m != nil {
		if hasValue {
			return ann, fmt.Errorf("annotation %s takes no value", key)
		}
		n, _ := strconv.Atoi(m[2])
		ann.Kind = AnnotationKind(m[1])
		ann.Group = n
		return ann, nil
	}

	if key == string(AnnLabel) && hasValue {
		parts, err := parseConcat(value)
		if err != nil {
			return ann, err
		}
		ann.Kind = AnnLabelConcat
		ann.Label = parts
		return ann, nil
	}

	kind := AnnotationKind(key)
	rule, ok := annotationRules[kind]
	if !ok {
		return ann, fmt.Errorf("%w: [%s]", ErrUnknownAnnotation, raw)
	}
	switch {
	case rule == noValue && hasValue:
		return ann, fmt.Errorf("annotation %s takes no value", key)
	case rule == needsValue && !hasValue:
		return ann, fmt.Errorf("annotation %s needs a value", key)
	}
	if kind == AnnTruncate {
		if n, err := strconv.Atoi(value); err != nil || n <= 0 {
			return ann, fmt.Errorf("TRUNCATE needs a positive length, got %q", value)
		}
	}
	ann.Kind = kind
	return ann, nil
}

var concatRe = regexp.MustCompile(`(?i)^concat\s*\((.*)\)$`)

func parseConcat(expr string) ([]LabelPart, error) {
	m := concatRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, fmt.Errorf("label expression must be concat(...), got %q", expr)
	}
	args, err := splitArgs(m[1])
	if err != nil {
		return nil, err
	}
	var parts []LabelPart
	fields := 0
	for _, a := range args {
		switch {
		case len(a) >= 2 && (a[0] == '\'' || a[0] == '"') && a[len(a)-1] == a[0]:
			parts = append(parts, LabelPart{Literal: a[1 : len(a)-1]})
		case identRe.MatchString(a):
			parts = append(parts, LabelPart{Field: a})
			fields++
		default:
			return nil, fmt.Errorf("invalid concat argument %q", a)
		}
	}
	if fields == 0 {
		return nil, fmt.Errorf("concat label references no field")
	}
	return parts, nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// splitArgs splits a comma separated argument list, keeping quoted commas.
func splitArgs(s string) ([]string, error) {
	var out []string
	var buf strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			buf.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			buf.WriteRune(r)
		case r == ',':
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	out = append(out, strings.TrimSpace(buf.String()))
	for _, a := range out {
		if a == "" {
			return nil, fmt.Errorf("empty argument in %q", s)
		}
	}
	return out, nil
}

// extractBrackets splits text into bracket tokens and the remaining plain
// text. Quotes and nested brackets inside a token are kept intact.
func extractBrackets(s string) (tokens []string, rest string, err error) {
	var plain, tok strings.Builder
	depth := 0
	var quote rune
	for _, r := range s {
		if depth == 0 {
			if r == '[' {
				depth = 1
				tok.Reset()
				continue
			}
			if r == ']' {
				return nil, "", fmt.Errorf("unbalanced ']' in %q", s)
			}
			plain.WriteRune(r)
			continue
		}
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
			if depth == 0 {
				tokens = append(tokens, tok.String())
				continue
			}
		}
		tok.WriteRune(r)
	}
	if depth != 0 {
		return nil, "", fmt.Errorf("unterminated '[' in %q", s)
	}
	return tokens, strings.Join(strings.Fields(plain.String()), " "), nil
}
