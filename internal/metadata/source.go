package metadata

import (
	"context"

	"specforge/internal/specdoc"
)

// Source locates the inputs of a compile: a directory of entity documents
// and an optional YAML type catalogue.
type Source struct {
	SpecDir   string
	TypesFile string
	Options   []Option
}

// Build loads the catalogue, parses every document and compiles them.
func (src Source) Build(ctx context.Context) (*Schema, error) {
	catalog, err := LoadCatalogFile(src.TypesFile)
	if err != nil {
		return nil, err
	}
	docs, err := specdoc.ParseDir(ctx, src.SpecDir)
	if err != nil {
		return nil, err
	}
	return NewCompiler(catalog, src.Options...).Compile(ctx, docs)
}
