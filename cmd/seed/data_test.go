package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("Task.yaml", "- title: Kickoff\n  project: Acme Corp-PRJ001\n  hours: 2\n")
	write("Project.json", `[{"client":"Acme Corp","code":"PRJ001"}]`)
	write("notes.txt", "ignored")

	batches, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "Project", batches[0].Entity)
	assert.Equal(t, "Acme Corp", batches[0].Records[0]["client"])
	assert.Equal(t, "Task", batches[1].Entity)
	assert.Equal(t, 2, batches[1].Records[0]["hours"])
}

func TestReadDirErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Task.json"), []byte(`{"not":"a list"}`), 0o644))
	_, err := ReadDir(dir)
	assert.ErrorContains(t, err, "decode Task.json")

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Task.json"), []byte(`[]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task.yaml"), []byte(`[]`), 0o644))
	_, err = ReadDir(dir)
	assert.ErrorContains(t, err, "both hold records")

	_, err = ReadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
