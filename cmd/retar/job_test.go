package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJob(t *testing.T) {
	t.Parallel()

	job, err := ParseJob([]byte(`
output: out.tar
force: true
block_size: 8192
unwrap: true
digest: true
max_spill: 1048576
inputs:
  - path: a.zip
  - path: "-"
    type: xz
    name: dump.sql.xz
`))
	require.NoError(t, err)
	assert.Equal(t, "out.tar", job.Output)
	assert.True(t, job.Force)
	assert.Equal(t, 8192, job.BlockSize)
	assert.True(t, job.Unwrap)
	assert.True(t, job.Digest)
	assert.Equal(t, int64(1<<20), job.MaxSpill)
	assert.Equal(t, []JobInput{
		{Path: "a.zip"},
		{Path: "-", Type: "xz", Name: "dump.sql.xz"},
	}, job.Inputs)
}

func TestParseJob_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "empty manifest"},
		{"no output", "inputs: [{path: a}]", "output is required"},
		{"no inputs", "output: o.tar", "at least one input"},
		{"input without path", "output: o.tar\ninputs: [{type: zip}]", "input 0: path is required"},
		{"unknown type", "output: o.tar\ninputs: [{path: a, type: rar}]", "unknown format name"},
		{"negative block size", "output: o.tar\nblock_size: -1\ninputs: [{path: a}]", "block_size"},
		{"negative max spill", "output: o.tar\nmax_spill: -1\ninputs: [{path: a}]", "max_spill"},
		{"unknown key", "output: o.tar\ncompress: true\ninputs: [{path: a}]", "compress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseJob([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadJob_ResolvesRelativePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`output: out/merged.tar
spill_dir: tmp
inputs:
  - path: in/a.zip
  - path: /abs/b.gz
  - path: "-"
`), 0o600))

	job, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "merged.tar"), job.Output)
	assert.Equal(t, filepath.Join(dir, "tmp"), job.SpillDir)
	assert.Equal(t, filepath.Join(dir, "in", "a.zip"), job.Inputs[0].Path)
	assert.Equal(t, "in/a.zip", job.Inputs[0].Name)
	assert.Equal(t, "/abs/b.gz", job.Inputs[1].Path)
	assert.Equal(t, "-", job.Inputs[2].Path)
}

func TestLoadJob_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadJob(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read job manifest")
}
