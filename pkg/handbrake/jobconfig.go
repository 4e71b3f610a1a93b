package handbrake

import (
	"encoding/json"
	"fmt"
	"strings"
)

// configMarker ends the stderr line that precedes the JSON job dump:
//
//	[12:34:56] json job:
//	{
//	    ...
//	}
const configMarker = "json job:"

func isConfigMarker(line string) bool {
	return strings.HasSuffix(strings.TrimRight(line, " \t"), configMarker)
}

func isConfigBlockEnd(line string) bool {
	return strings.TrimRight(line, " \t") == "}"
}

// JobConfig is the subset of HandBrake's JSON job echo this package decodes.
// Keys match case-insensitively, so both HandBrake's PascalCase and lower-case
// spellings are accepted.
type JobConfig struct {
	Source      SourceConfig      `json:"Source"`
	Destination DestinationConfig `json:"Destination"`
	Video       VideoConfig       `json:"Video"`
	Audio       AudioConfig       `json:"Audio"`
}

// Kind implements Event.
func (JobConfig) Kind() EventKind { return KindConfig }
func (JobConfig) isEvent()        {}

// SourceConfig identifies the input.
type SourceConfig struct {
	Path  string `json:"Path"`
	Title int    `json:"Title"`
}

// DestinationConfig identifies the output.
type DestinationConfig struct {
	File string  `json:"File"`
	Mux  MuxName `json:"Mux"`
}

// VideoConfig holds the video encoder settings.
type VideoConfig struct {
	Encoder string  `json:"Encoder"`
	Quality float64 `json:"Quality"`
	Preset  string  `json:"Preset,omitempty"`
}

// AudioConfig lists the output audio tracks.
type AudioConfig struct {
	Tracks []AudioTrackConfig `json:"AudioList"`
}

// AudioTrackConfig is one output audio track.
type AudioTrackConfig struct {
	Track   int    `json:"Track"`
	Encoder string `json:"Encoder"`
	Bitrate int    `json:"Bitrate"`
}

// MuxName is a container name. Older HandBrake builds report the mux as a
// numeric id, newer ones as a short name; both decode.
type MuxName string

// UnmarshalJSON implements json.Unmarshaler.
func (m *MuxName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = MuxName(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("mux must be a string or number: %w", err)
	}
	*m = MuxName(n.String())
	return nil
}

// decodeJobConfig decodes one buffered config block.
func decodeJobConfig(raw string) (JobConfig, error) {
	var cfg JobConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return JobConfig{}, fmt.Errorf("decoding job config: %w", err)
	}
	return cfg, nil
}
