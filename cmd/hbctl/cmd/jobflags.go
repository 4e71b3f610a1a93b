package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/superyu1337/handbrake-go/internal/service/encode"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// jobFlags holds the encode options shared by args, run and encode.
type jobFlags struct {
	preset  string
	encoder string
	format  string
	quality float64
	width   int
	height  int
	audio   []string

	subTracks  []int
	subScan    bool
	subNone    bool
	subLangs   []string
	subFirst   bool
	subBurn    string
	subForced  int
	subDefault string
	subFiles   []string
}

func (f *jobFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.preset, "preset", "Z", "", "HandBrake preset name")
	fs.StringVarP(&f.encoder, "encoder", "e", "", "video encoder, e.g. x265")
	fs.StringVarP(&f.format, "format", "f", "", "container format, e.g. av_mkv")
	fs.Float64VarP(&f.quality, "quality", "q", 0, "constant quality")
	fs.IntVarP(&f.width, "width", "w", 0, "output width")
	fs.IntVarP(&f.height, "height", "l", 0, "output height")
	fs.StringArrayVar(&f.audio, "audio", nil, "audio encoder for a source track as TRACK=ENCODER (repeatable)")

	fs.IntSliceVar(&f.subTracks, "subtitle", nil, "subtitle tracks to include")
	fs.BoolVar(&f.subScan, "subtitle-scan", false, "scan for foreign audio subtitles")
	fs.BoolVar(&f.subNone, "subtitle-none", false, "include no subtitles")
	fs.StringSliceVar(&f.subLangs, "subtitle-lang", nil, "include subtitles in these languages")
	fs.BoolVar(&f.subFirst, "subtitle-first", false, "include only the first track matching --subtitle-lang")
	fs.StringVar(&f.subBurn, "subtitle-burned", "", "burn in native, none or a track number")
	fs.IntVar(&f.subForced, "subtitle-forced", 0, "only forced subtitles of this track (0 for any track)")
	fs.StringVar(&f.subDefault, "subtitle-default", "", "default subtitle track, or none")
	fs.StringArrayVar(&f.subFiles, "subtitle-file", nil, "import an SRT or SSA file as PATH[,LANG] (repeatable)")
}

// request builds an encode request from the flags that were set.
func (f *jobFlags) request(fs *pflag.FlagSet, input, output string) (encode.Request, error) {
	req := encode.Request{
		Input:   input,
		Output:  output,
		Preset:  f.preset,
		Encoder: f.encoder,
		Format:  f.format,
		Width:   f.width,
		Height:  f.height,
	}
	if fs.Changed("quality") {
		q := f.quality
		req.Quality = &q
	}

	for _, spec := range f.audio {
		track, codec, ok := strings.Cut(spec, "=")
		if !ok || codec == "" {
			return encode.Request{}, fmt.Errorf("--audio %q: want TRACK=ENCODER", spec)
		}
		n, err := encode.ParseTrack(track)
		if err != nil {
			return encode.Request{}, fmt.Errorf("--audio %q: %w", spec, err)
		}
		if req.Audio == nil {
			req.Audio = make(map[int]string)
		}
		req.Audio[n] = codec
	}

	subs := encode.SubtitleOptions{
		Tracks:    f.subTracks,
		Scan:      f.subScan,
		None:      f.subNone,
		Languages: f.subLangs,
		FirstOnly: f.subFirst,
		Burn:      f.subBurn,
		Default:   f.subDefault,
	}
	if fs.Changed("subtitle-forced") {
		forced := f.subForced
		subs.Forced = &forced
	}
	for _, spec := range f.subFiles {
		path, lang, _ := strings.Cut(spec, ",")
		subs.Files = append(subs.Files, encode.SubtitleFile{Path: path, Language: lang})
	}
	if subtitleFlagsSet(fs) {
		req.Subtitles = &subs
	}

	if err := req.ValidateDirect(); err != nil {
		return encode.Request{}, err
	}
	return req, nil
}

func subtitleFlagsSet(fs *pflag.FlagSet) bool {
	set := false
	fs.Visit(func(fl *pflag.Flag) {
		if strings.HasPrefix(fl.Name, "subtitle") {
			set = true
		}
	})
	return set
}

// inputSource maps "-" to standard input.
func inputSource(p string) handbrake.InputSource {
	if p == "-" {
		return handbrake.StdinInput(os.Stdin)
	}
	return handbrake.FileInput(p)
}

// outputDestination maps "-" to standard output.
func outputDestination(p string) handbrake.OutputDestination {
	if p == "-" {
		return handbrake.StdoutOutput(os.Stdout)
	}
	return handbrake.FileOutput(p)
}

// shellQuote renders args for display, quoting those a shell would split.
func shellQuote(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$`*?[]{}()<>|&;#~") {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
