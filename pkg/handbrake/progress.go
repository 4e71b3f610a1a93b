package handbrake

import (
	"regexp"
	"strconv"
	"time"
)

// progressPattern matches HandBrakeCLI's carriage-return progress line:
//
//	Encoding: task 1 of 1, 12.34 % (120.00 fps, avg 110.00 fps, ETA 00h01m30s)
//
// The parenthesised section and each field inside it are optional.
var progressPattern = regexp.MustCompile(
	`Encoding: task (\d+) of (\d+), (\d{1,3}\.\d{2}) %` +
		`(?: \((?:(\d+\.\d{2}) fps)?(?:,? ?avg (\d+\.\d{2}) fps)?(?:,? ?ETA (\d{2})h(\d{2})m(\d{2})s)?\))?`,
)

// Submatch indices into progressPattern.
const (
	groupTask = iota + 1
	groupTaskCount
	groupPercent
	groupFPS
	groupAvgFPS
	groupETAHours
	groupETAMinutes
	groupETASeconds
)

// matchProgress finds a progress line in data. start and end delimit the
// matched bytes so the caller can recover whatever surrounds them.
func matchProgress(data []byte) (p Progress, start, end int, ok bool) {
	loc := progressPattern.FindSubmatchIndex(data)
	if loc == nil {
		return Progress{}, 0, 0, false
	}

	group := func(n int) []byte {
		if loc[2*n] < 0 {
			return nil
		}
		return data[loc[2*n]:loc[2*n+1]]
	}

	p.Task = atoiOrZero(group(groupTask))
	p.TaskCount = atoiOrZero(group(groupTaskCount))
	p.Percent = floatOrZero(group(groupPercent))
	p.FPS = floatOrZero(group(groupFPS))

	if avg := group(groupAvgFPS); avg != nil {
		v := floatOrZero(avg)
		p.AvgFPS = &v
	}

	if h := group(groupETAHours); h != nil {
		eta := parseETA(h, group(groupETAMinutes), group(groupETASeconds))
		p.ETA = &eta
	}

	return p, loc[0], loc[1], true
}

// parseETA turns the HHhMMmSSs fields into a duration. Malformed fields count as zero.
func parseETA(hours, minutes, seconds []byte) time.Duration {
	total := atoiOrZero(hours)*3600 + atoiOrZero(minutes)*60 + atoiOrZero(seconds)
	return time.Duration(total) * time.Second
}

// ParseProgress parses a single progress line. It reports false when line is not one.
func ParseProgress(line string) (Progress, bool) {
	p, _, _, ok := matchProgress([]byte(line))
	return p, ok
}

func atoiOrZero(b []byte) int {
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0
	}
	return n
}

func floatOrZero(b []byte) float64 {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0
	}
	return f
}
