package handbrake

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// SubtitleSelection chooses which source subtitle tracks are carried into the output.
type SubtitleSelection struct {
	tracks    []int
	languages []string
	keyword   string
	firstOnly bool
}

// SubtitleTracks selects subtitle tracks by their 1-based index.
func SubtitleTracks(tracks ...int) SubtitleSelection {
	return SubtitleSelection{tracks: slices.Clone(tracks)}
}

// SubtitleScan asks HandBrake to scan for forced foreign-audio subtitles.
func SubtitleScan() SubtitleSelection {
	return SubtitleSelection{keyword: "scan"}
}

// SubtitleNone drops every subtitle track.
func SubtitleNone() SubtitleSelection {
	return SubtitleSelection{keyword: "none"}
}

// SubtitleLanguages selects every subtitle track in any of the given ISO 639-2 languages.
func SubtitleLanguages(langs ...string) SubtitleSelection {
	return SubtitleSelection{languages: slices.Clone(langs)}
}

// SubtitleFirstLanguage selects only the first subtitle track matching the languages.
func SubtitleFirstLanguage(langs ...string) SubtitleSelection {
	return SubtitleSelection{languages: slices.Clone(langs), firstOnly: true}
}

func (s SubtitleSelection) args() []string {
	switch {
	case s.keyword != "":
		return []string{"--subtitle", s.keyword}
	case len(s.languages) > 0:
		mode := "--all-subtitles"
		if s.firstOnly {
			mode = "--first-subtitle"
		}
		return []string{"--subtitle-lang-list", strings.Join(s.languages, ","), mode}
	case len(s.tracks) > 0:
		return []string{"--subtitle", joinInts(s.tracks)}
	}
	return nil
}

// SubtitleBurn controls which subtitle track is burned into the video.
type SubtitleBurn string

// Burn modes understood by --subtitle-burned.
const (
	BurnNone   SubtitleBurn = "none"
	BurnNative SubtitleBurn = "native"
)

// BurnTrack burns the given selected subtitle track.
func BurnTrack(track int) SubtitleBurn {
	return SubtitleBurn(strconv.Itoa(track))
}

// SubtitleDefault controls which subtitle track is flagged as default.
type SubtitleDefault string

// DefaultNone clears the default flag on every subtitle track.
const DefaultNone SubtitleDefault = "none"

// DefaultTrack flags the given selected subtitle track as default.
func DefaultTrack(track int) SubtitleDefault {
	return SubtitleDefault(strconv.Itoa(track))
}

// SubtitleImport is an external subtitle file muxed into the output.
type SubtitleImport struct {
	Path     string
	Language string
}

func (s SubtitleImport) isSSA() bool {
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".ssa", ".ass":
		return true
	}
	return false
}

// JobBuilder describes a HandBrakeCLI invocation.
// Each setter replaces any earlier value for the same option.
type JobBuilder struct {
	path     string
	input    InputSource
	output   OutputDestination
	settings settings

	preset          string
	videoCodec      string
	width           int
	height          int
	audioCodecs     map[int]string
	quality         *float64
	format          string
	subtitles       *SubtitleSelection
	subtitleBurn    SubtitleBurn
	subtitleForced  *int
	subtitleDefault SubtitleDefault
	imports         []SubtitleImport
}

// NewJobBuilder creates a builder for the executable at path without validating it.
func NewJobBuilder(path string, in InputSource, out OutputDestination) *JobBuilder {
	return &JobBuilder{
		path:        path,
		input:       in,
		output:      out,
		settings:    defaultSettings(),
		audioCodecs: make(map[int]string),
	}
}

// Preset selects a built-in or imported preset, e.g. "Fast 1080p30".
func (b *JobBuilder) Preset(name string) *JobBuilder {
	b.preset = name
	return b
}

// VideoCodec overrides the video encoder, e.g. "x265".
func (b *JobBuilder) VideoCodec(codec string) *JobBuilder {
	b.videoCodec = codec
	return b
}

// Dimensions sets the output storage size. Zero leaves a side unset.
func (b *JobBuilder) Dimensions(width, height int) *JobBuilder {
	b.width = width
	b.height = height
	return b
}

// AudioCodec overrides the encoder of one audio track.
func (b *JobBuilder) AudioCodec(track int, codec string) *JobBuilder {
	b.audioCodecs[track] = codec
	return b
}

// Quality sets the constant quality (RF) value.
func (b *JobBuilder) Quality(q float64) *JobBuilder {
	b.quality = &q
	return b
}

// Format sets the container format, e.g. "av_mkv".
func (b *JobBuilder) Format(format string) *JobBuilder {
	b.format = format
	return b
}

// Subtitles sets the subtitle selection.
func (b *JobBuilder) Subtitles(sel SubtitleSelection) *JobBuilder {
	b.subtitles = &sel
	return b
}

// SubtitleLang keeps every subtitle track in the given languages.
func (b *JobBuilder) SubtitleLang(langs ...string) *JobBuilder {
	return b.Subtitles(SubtitleLanguages(langs...))
}

// SubtitleBurn sets which subtitle track is burned in.
func (b *JobBuilder) SubtitleBurn(mode SubtitleBurn) *JobBuilder {
	b.subtitleBurn = mode
	return b
}

// SubtitleForced keeps only forced subtitles on track, or on every selected track when track is 0.
func (b *JobBuilder) SubtitleForced(track int) *JobBuilder {
	b.subtitleForced = &track
	return b
}

// SubtitleDefault sets which subtitle track is flagged default.
func (b *JobBuilder) SubtitleDefault(mode SubtitleDefault) *JobBuilder {
	b.subtitleDefault = mode
	return b
}

// ImportSubtitle muxes an external SRT or SSA file. An empty language means "und".
// Importing the same path again replaces its language in place.
func (b *JobBuilder) ImportSubtitle(path, language string) *JobBuilder {
	imp := SubtitleImport{Path: path, Language: language}
	for i := range b.imports {
		if b.imports[i].Path == path {
			b.imports[i] = imp
			return b
		}
	}
	b.imports = append(b.imports, imp)
	return b
}

// Clone returns an independent copy of the builder.
func (b *JobBuilder) Clone() *JobBuilder {
	c := *b
	c.audioCodecs = maps.Clone(b.audioCodecs)
	c.imports = slices.Clone(b.imports)
	if b.quality != nil {
		q := *b.quality
		c.quality = &q
	}
	if b.subtitles != nil {
		sel := *b.subtitles
		c.subtitles = &sel
	}
	if b.subtitleForced != nil {
		f := *b.subtitleForced
		c.subtitleForced = &f
	}
	return &c
}

// Path returns the executable the job will run.
func (b *JobBuilder) Path() string {
	return b.path
}

// Input returns the configured input source.
func (b *JobBuilder) Input() InputSource {
	return b.input
}

// Output returns the configured output destination.
func (b *JobBuilder) Output() OutputDestination {
	return b.output
}

// BuildArgs returns the HandBrakeCLI argument list. Input and output come
// first; unset options produce no arguments.
func (b *JobBuilder) BuildArgs() []string {
	args := []string{"-i", b.input.arg(), "-o", b.output.arg()}

	if b.preset != "" {
		args = append(args, "--preset", b.preset)
	}
	if b.videoCodec != "" {
		args = append(args, "--encoder", b.videoCodec)
	}
	if b.width > 0 {
		args = append(args, "--width", strconv.Itoa(b.width))
	}
	if b.height > 0 {
		args = append(args, "--height", strconv.Itoa(b.height))
	}
	for _, track := range slices.Sorted(maps.Keys(b.audioCodecs)) {
		args = append(args, "--audio", fmt.Sprintf("%d,%s", track, b.audioCodecs[track]))
	}
	if b.quality != nil {
		args = append(args, "--quality", FormatQuality(*b.quality))
	}
	if b.format != "" {
		args = append(args, "--format", b.format)
	}
	if b.subtitles != nil {
		args = append(args, b.subtitles.args()...)
	}
	if b.subtitleBurn != "" {
		args = append(args, "--subtitle-burned="+string(b.subtitleBurn))
	}
	if b.subtitleForced != nil {
		if *b.subtitleForced > 0 {
			args = append(args, "--subtitle-forced="+strconv.Itoa(*b.subtitleForced))
		} else {
			args = append(args, "--subtitle-forced")
		}
	}
	if b.subtitleDefault != "" {
		args = append(args, "--subtitle-default="+string(b.subtitleDefault))
	}
	args = append(args, importArgs(b.imports)...)

	return args
}

// FormatQuality renders q the shortest way that round-trips: 22 -> "22", 20.5 -> "20.5".
func FormatQuality(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func importArgs(imports []SubtitleImport) []string {
	var srtFiles, srtLangs, ssaFiles, ssaLangs []string
	for _, imp := range imports {
		lang := imp.Language
		if lang == "" {
			lang = "und"
		}
		if imp.isSSA() {
			ssaFiles = append(ssaFiles, imp.Path)
			ssaLangs = append(ssaLangs, lang)
		} else {
			srtFiles = append(srtFiles, imp.Path)
			srtLangs = append(srtLangs, lang)
		}
	}

	var args []string
	if len(srtFiles) > 0 {
		args = append(args,
			"--srt-file", strings.Join(srtFiles, ","),
			"--srt-lang", strings.Join(srtLangs, ","),
		)
	}
	if len(ssaFiles) > 0 {
		args = append(args,
			"--ssa-file", strings.Join(ssaFiles, ","),
			"--ssa-lang", strings.Join(ssaLangs, ","),
		)
	}
	return args
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
