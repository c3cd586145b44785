package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/metadata/schematest"
)

func specDir(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"client.md":   schematest.Client,
		"employee.md": schematest.Employee,
		"project.md":  schematest.Project,
		"task.md":     schematest.Task,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	types := filepath.Join(dir, "types.yaml")
	require.NoError(t, os.WriteFile(types, []byte(schematest.Catalog), 0o644))
	return dir, types
}

func TestRunFormats(t *testing.T) {
	dir, types := specDir(t)
	var out, errOut bytes.Buffer

	require.Equal(t, 0, run(context.Background(), []string{"-spec", dir, "-types", types, "-format", "order"}, &out, &errOut), errOut.String())
	assert.Equal(t, "Client\nEmployee\nProject\nTask\n", out.String())

	out.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"-spec", dir, "-types", types}, &out, &errOut))
	assert.Contains(t, out.String(), `CREATE TABLE IF NOT EXISTS "task"`)

	out.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"-spec", dir, "-types", types, "-format", "json"}, &out, &errOut))
	var entities []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entities))
	assert.Len(t, entities, 4)
}

func TestRunReportsErrors(t *testing.T) {
	dir, types := specDir(t)
	var out, errOut bytes.Buffer

	assert.Equal(t, 2, run(context.Background(), []string{"-spec", dir, "-types", types, "-format", "yaml"}, &out, &errOut))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("# Broken\n\n| Attribute | Type | Description | Example |\n|---|---|---|---|\n| ref | Missing | | |\n"), 0o644))
	errOut.Reset()
	assert.Equal(t, 1, run(context.Background(), []string{"-spec", dir, "-types", types}, &out, &errOut))
	assert.NotEmpty(t, errOut.String())
}
