package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"specforge/internal/domain"
	"specforge/internal/domain/importer"
)

// ReadDir reads one batch per record file. The importer reorders the
// batches by dependency, so file order does not matter.
func ReadDir(dir string) ([]importer.Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	batches := make([]importer.Batch, 0, len(names))
	for _, name := range names {
		entity := strings.TrimSuffix(name, filepath.Ext(name))
		key := strings.ToLower(entity)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%s and %s both hold records of %s", prev, name, entity)
		}
		seen[key] = name

		records, err := readRecords(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		batches = append(batches, importer.Batch{Entity: entity, Records: records})
	}
	return batches, nil
}

func readRecords(path string) ([]domain.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &rows)
	default:
		err = yaml.Unmarshal(raw, &rows)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	out := make([]domain.Record, len(rows))
	for i, r := range rows {
		out[i] = domain.Record(r)
	}
	return out, nil
}
