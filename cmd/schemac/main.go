// Package main provides the schema compiler CLI.
// Usage: schemac [-spec dir] [-types file] [-format sql|order|json]
//
// It compiles the entity documents and prints the PostgreSQL DDL, the
// dependency order or the compiled entities. Compile errors go to stderr
// and exit non-zero.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"specforge/internal/core/apperror"
	"specforge/internal/domain/validation"
	"specforge/internal/infrastructure/http/v1/dto"
	"specforge/internal/infrastructure/storage/postgres"
	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("schemac", flag.ContinueOnError)
	fs.SetOutput(stderr)
	specDir := fs.String("spec", "spec", "Directory of entity documents (*.md)")
	typesFile := fs.String("types", "", "Type catalogue YAML file")
	format := fs.String("format", "sql", "Output: sql, order or json")
	verbose := fs.Bool("v", false, "Log compile progress to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := logger.NewNop()
	if *verbose {
		log = logger.Default()
	}
	ctx = logger.WithLogger(ctx, log)

	src := metadata.Source{
		SpecDir:   *specDir,
		TypesFile: *typesFile,
		Options:   []metadata.Option{metadata.WithConstraintCheck(validation.CheckConstraint)},
	}
	s, err := src.Build(ctx)
	if err != nil {
		printError(stderr, err)
		return 1
	}

	switch *format {
	case "sql":
		fmt.Fprint(stdout, postgres.GenerateDDL(s).String())
	case "order":
		fmt.Fprintln(stdout, strings.Join(s.Order, "\n"))
	case "json":
		out := make([]dto.EntityResponse, 0, len(s.Order))
		for _, e := range s.Entities() {
			out = append(out, dto.FromEntity(e))
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			printError(stderr, err)
			return 1
		}
	default:
		fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return 2
	}
	return 0
}

func printError(w io.Writer, err error) {
	appErr, ok := apperror.AsAppError(err)
	if !ok {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", appErr.Code, appErr.Message)
	for k, v := range appErr.Details {
		fmt.Fprintf(w, "  %s: %v\n", k, v)
	}
}
