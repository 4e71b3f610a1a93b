// Package manifest loads batch encode manifests.
//
// A manifest is a YAML file with shared defaults and a list of jobs:
//
//	schedule: "0 3 * * *"
//	defaults:
//	  preset: Fast 1080p30
//	  format: av_mkv
//	  output_dir: /media/encoded
//	jobs:
//	  - name: pilot
//	    input: /media/raw/pilot.mkv
//	  - input: /media/raw/ep2.mkv
//	    output: /media/encoded/episode-2.mkv
//	    encoder: x265
//
// Each job inherits any option it leaves unset from defaults.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/superyu1337/handbrake-go/internal/service/encode"
)

// ErrNoJobs is returned when a manifest lists no jobs.
var ErrNoJobs = errors.New("manifest has no jobs")

// Manifest is a parsed batch file.
type Manifest struct {
	// Schedule is an optional cron expression used by `batch --cron` when
	// no expression is given on the command line.
	Schedule string   `yaml:"schedule,omitempty"`
	Defaults Defaults `yaml:"defaults,omitempty"`
	Jobs     []Job    `yaml:"jobs"`

	baseDir string
}

// Defaults holds options shared by every job.
type Defaults struct {
	Preset    string                  `yaml:"preset,omitempty"`
	Encoder   string                  `yaml:"encoder,omitempty"`
	Quality   *float64                `yaml:"quality,omitempty"`
	Format    string                  `yaml:"format,omitempty"`
	Width     int                     `yaml:"width,omitempty"`
	Height    int                     `yaml:"height,omitempty"`
	Audio     map[int]string          `yaml:"audio,omitempty"`
	Subtitles *encode.SubtitleOptions `yaml:"subtitles,omitempty"`
	// OutputDir receives jobs without an explicit output, named after the
	// input with the container's extension.
	OutputDir string `yaml:"output_dir,omitempty"`
}

// Job is one manifest entry.
type Job struct {
	encode.Request `yaml:",inline"`
}

// Load reads and parses the manifest at path. Relative paths in the file
// are resolved against its directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.baseDir = filepath.Dir(path)
	return m, nil
}

// Parse parses manifest YAML. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(m.Jobs) == 0 {
		return nil, ErrNoJobs
	}
	return &m, nil
}

// Requests merges defaults into every job and validates the result.
func (m *Manifest) Requests() ([]encode.Request, error) {
	reqs := make([]encode.Request, 0, len(m.Jobs))
	for i, job := range m.Jobs {
		req := m.merge(job.Request)
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("job %d (%s): %w", i+1, jobLabel(job.Request), err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (m *Manifest) merge(job encode.Request) encode.Request {
	d := m.Defaults
	req := job

	if req.Preset == "" {
		req.Preset = d.Preset
	}
	if req.Encoder == "" {
		req.Encoder = d.Encoder
	}
	if req.Quality == nil && d.Quality != nil {
		q := *d.Quality
		req.Quality = &q
	}
	if req.Format == "" {
		req.Format = d.Format
	}
	if req.Width == 0 && req.Height == 0 {
		req.Width, req.Height = d.Width, d.Height
	}
	if len(d.Audio) > 0 {
		audio := maps.Clone(d.Audio)
		maps.Copy(audio, job.Audio)
		req.Audio = audio
	}
	if req.Subtitles == nil && d.Subtitles != nil {
		subs := *d.Subtitles
		req.Subtitles = &subs
	}

	req.Input = m.resolve(req.Input)
	if req.Output == "" && d.OutputDir != "" && req.Input != "" {
		req.Output = filepath.Join(m.resolve(d.OutputDir), outputName(req.Input, req.Format))
	} else {
		req.Output = m.resolve(req.Output)
	}
	return req
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.baseDir == "" {
		return p
	}
	return filepath.Join(m.baseDir, p)
}

// outputName swaps the input's extension for the container's.
func outputName(input, format string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + extension(format)
}

func extension(format string) string {
	switch format {
	case "av_mkv":
		return ".mkv"
	case "av_webm":
		return ".webm"
	default:
		return ".mp4"
	}
}

func jobLabel(r encode.Request) string {
	if r.Name != "" {
		return r.Name
	}
	return r.Input
}
