package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/meigma/retar"
)

// Job is a transcode job read from a YAML manifest.
//
// Example:
//
//	output: bundle.tar
//	force: true
//	block_size: 65536
//	unwrap: true
//	inputs:
//	  - path: site.zip
//	  - path: notes.txt.gz
//	    type: gzip
//	  - path: -          # stdin
//	    type: xz
//	    name: dump.sql.xz
//
// Relative paths are resolved against the manifest's directory.
type Job struct {
	// Output is the destination path, or "-" for stdout.
	Output string `yaml:"output"`

	// Force allows an existing output file to be replaced.
	Force bool `yaml:"force"`

	// BlockSize is the I/O chunk size in bytes. Zero keeps the default.
	BlockSize int `yaml:"block_size"`

	// Unwrap emits the entries of compressed TAR payloads.
	Unwrap bool `yaml:"unwrap"`

	// Digest prints a sha256 digest per regular file.
	Digest bool `yaml:"digest"`

	// MaxSpill caps one entry of unknown size, in bytes. Zero means no limit.
	MaxSpill int64 `yaml:"max_spill"`

	// SpillDir holds temporary files for entries of unknown size.
	SpillDir string `yaml:"spill_dir"`

	Inputs []JobInput `yaml:"inputs"`
}

// JobInput is one source of a Job.
type JobInput struct {
	// Path is the file to read, or "-" for stdin.
	Path string `yaml:"path"`

	// Type is a format name; empty or "auto" detects it.
	Type string `yaml:"type"`

	// Name overrides the input identifier used for naming and errors.
	// It defaults to the path.
	Name string `yaml:"name"`
}

// LoadJob reads and validates a manifest.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job manifest: %w", err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("job manifest %s: %w", path, err)
	}
	job.resolve(filepath.Dir(path))
	return job, nil
}

// ParseJob decodes a manifest. Unknown keys are rejected.
func ParseJob(data []byte) (*Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var job Job
	if err := dec.Decode(&job); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty manifest")
		}
		return nil, err
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) validate() error {
	if j.Output == "" {
		return errors.New("output is required")
	}
	if len(j.Inputs) == 0 {
		return errors.New("at least one input is required")
	}
	if j.BlockSize < 0 {
		return fmt.Errorf("block_size %d must not be negative", j.BlockSize)
	}
	if j.MaxSpill < 0 {
		return fmt.Errorf("max_spill %d must not be negative", j.MaxSpill)
	}
	for i, in := range j.Inputs {
		if in.Path == "" {
			return fmt.Errorf("input %d: path is required", i)
		}
		if _, err := retar.ParseFormat(in.Type); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

// resolve makes relative paths relative to dir.
func (j *Job) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || p == stdio || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	j.Output = abs(j.Output)
	j.SpillDir = abs(j.SpillDir)
	for i := range j.Inputs {
		if j.Inputs[i].Name == "" {
			j.Inputs[i].Name = j.Inputs[i].Path
		}
		j.Inputs[i].Path = abs(j.Inputs[i].Path)
	}
}
