package encode

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"

	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// Request errors.
var (
	ErrInputRequired  = errors.New("input is required")
	ErrOutputRequired = errors.New("output is required")
	ErrPipeNotAllowed = errors.New("standard input and output cannot be used by managed runs")
)

// Request describes one encode submitted to the service.
type Request struct {
	Name      string           `json:"name,omitempty" yaml:"name,omitempty" doc:"Free-form label for the run"`
	Input     string           `json:"input" yaml:"input" doc:"Source media path"`
	Output    string           `json:"output" yaml:"output" doc:"Destination media path"`
	Preset    string           `json:"preset,omitempty" yaml:"preset,omitempty" doc:"HandBrake preset name"`
	Encoder   string           `json:"encoder,omitempty" yaml:"encoder,omitempty" doc:"Video encoder, e.g. x265"`
	Quality   *float64         `json:"quality,omitempty" yaml:"quality,omitempty" doc:"Constant quality value"`
	Format    string           `json:"format,omitempty" yaml:"format,omitempty" doc:"Container format, e.g. av_mkv"`
	Width     int              `json:"width,omitempty" yaml:"width,omitempty" minimum:"0"`
	Height    int              `json:"height,omitempty" yaml:"height,omitempty" minimum:"0"`
	Audio     map[int]string   `json:"audio,omitempty" yaml:"audio,omitempty" doc:"Audio encoder per source track number"`
	Subtitles *SubtitleOptions `json:"subtitles,omitempty" yaml:"subtitles,omitempty"`
}

// SubtitleOptions selects and flags subtitle tracks. Tracks, Scan, None and
// Languages are alternatives; when several are set the first in that order
// wins.
type SubtitleOptions struct {
	Tracks    []int    `json:"tracks,omitempty" yaml:"tracks,omitempty"`
	Scan      bool     `json:"scan,omitempty" yaml:"scan,omitempty"`
	None      bool     `json:"none,omitempty" yaml:"none,omitempty"`
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	FirstOnly bool     `json:"first_only,omitempty" yaml:"first_only,omitempty" doc:"Only the first track matching Languages"`

	Burn    string `json:"burn,omitempty" yaml:"burn,omitempty" doc:"native, none or a track number"`
	Forced  *int   `json:"forced,omitempty" yaml:"forced,omitempty" doc:"Forced-only track; 0 means any track"`
	Default string `json:"default,omitempty" yaml:"default,omitempty" doc:"none or a track number"`

	Files []SubtitleFile `json:"files,omitempty" yaml:"files,omitempty" doc:"External SRT/SSA files to import"`
}

// SubtitleFile is an external subtitle file.
type SubtitleFile struct {
	Path     string `json:"path" yaml:"path"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

var trackNumber = regexp.MustCompile(`^[1-9][0-9]*$`)

// Validate checks that the request can be turned into a job.
func (r *Request) Validate() error {
	switch {
	case r.Input == "":
		return ErrInputRequired
	case r.Output == "":
		return ErrOutputRequired
	case r.Input == "-" || r.Output == "-":
		return ErrPipeNotAllowed
	}
	return r.validateOptions()
}

// ValidateDirect is Validate for jobs the caller runs itself, where "-"
// names standard input or standard output.
func (r *Request) ValidateDirect() error {
	switch {
	case r.Input == "":
		return ErrInputRequired
	case r.Output == "":
		return ErrOutputRequired
	}
	return r.validateOptions()
}

func (r *Request) validateOptions() error {
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("dimensions must not be negative")
	}

	for track := range r.Audio {
		if track < 1 {
			return fmt.Errorf("audio track %d: track numbers start at 1", track)
		}
	}

	if s := r.Subtitles; s != nil {
		if s.Burn != "" && s.Burn != string(handbrake.BurnNone) && s.Burn != string(handbrake.BurnNative) && !trackNumber.MatchString(s.Burn) {
			return fmt.Errorf("subtitle burn %q: want native, none or a track number", s.Burn)
		}
		if s.Default != "" && s.Default != string(handbrake.DefaultNone) && !trackNumber.MatchString(s.Default) {
			return fmt.Errorf("subtitle default %q: want none or a track number", s.Default)
		}
		if s.Forced != nil && *s.Forced < 0 {
			return fmt.Errorf("subtitle forced track must not be negative")
		}
		for _, f := range s.Files {
			if f.Path == "" {
				return fmt.Errorf("subtitle file path is required")
			}
		}
	}
	return nil
}

// Configure applies the request's options to b.
func (r *Request) Configure(b *handbrake.JobBuilder) *handbrake.JobBuilder {
	if r.Preset != "" {
		b.Preset(r.Preset)
	}
	if r.Encoder != "" {
		b.VideoCodec(r.Encoder)
	}
	if r.Width > 0 || r.Height > 0 {
		b.Dimensions(r.Width, r.Height)
	}
	for _, track := range slices.Sorted(maps.Keys(r.Audio)) {
		b.AudioCodec(track, r.Audio[track])
	}
	if r.Quality != nil {
		b.Quality(*r.Quality)
	}
	if r.Format != "" {
		b.Format(r.Format)
	}
	if s := r.Subtitles; s != nil {
		if sel, ok := s.selection(); ok {
			b.Subtitles(sel)
		}
		if s.Burn != "" {
			b.SubtitleBurn(handbrake.SubtitleBurn(s.Burn))
		}
		if s.Forced != nil {
			b.SubtitleForced(*s.Forced)
		}
		if s.Default != "" {
			b.SubtitleDefault(handbrake.SubtitleDefault(s.Default))
		}
		for _, f := range s.Files {
			b.ImportSubtitle(f.Path, f.Language)
		}
	}
	return b
}

func (s *SubtitleOptions) selection() (handbrake.SubtitleSelection, bool) {
	switch {
	case len(s.Tracks) > 0:
		return handbrake.SubtitleTracks(s.Tracks...), true
	case s.Scan:
		return handbrake.SubtitleScan(), true
	case s.None:
		return handbrake.SubtitleNone(), true
	case len(s.Languages) > 0 && s.FirstOnly:
		return handbrake.SubtitleFirstLanguage(s.Languages...), true
	case len(s.Languages) > 0:
		return handbrake.SubtitleLanguages(s.Languages...), true
	}
	return handbrake.SubtitleSelection{}, false
}

// label returns the name used for logs when the request has none.
func (r *Request) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Input
}

// ParseTrack parses an audio track number as given on a command line.
func ParseTrack(s string) (int, error) {
	if !trackNumber.MatchString(s) {
		return 0, fmt.Errorf("invalid track number %q", s)
	}
	return strconv.Atoi(s)
}
