package handbrake

import (
	"bytes"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runDemuxer(t *testing.T, stdout, stderr string, maxBlock int) []Event {
	t.Helper()

	events := make(chan Event, 1024)
	d := newDemuxer(events, make(chan struct{}), maxBlock, slog.New(slog.DiscardHandler))

	finished := make(chan struct{})
	go func() {
		d.run(strings.NewReader(stdout), strings.NewReader(stderr))
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("demuxer did not finish")
	}
	close(events)

	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventsOf[T Event](events []Event) []T {
	var out []T
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestDemuxer_ProgressLine(t *testing.T) {
	events := runDemuxer(t, "Encoding: task 1 of 1, 12.34 % (120.00 fps, avg 110.00 fps, ETA 00h01m30s)\r", "", DefaultMaxConfigBlock)

	require.Len(t, events, 1)
	p, ok := events[0].(Progress)
	require.True(t, ok)
	assert.InDelta(t, 12.34, p.Percent, 0.0001)
	require.NotNil(t, p.ETA)
	assert.Equal(t, 90*time.Second, *p.ETA)
}

func TestDemuxer_ProgressSequence(t *testing.T) {
	stdout := "\rEncoding: task 1 of 1, 10.00 %\rEncoding: task 1 of 1, 20.00 %\r"
	events := runDemuxer(t, stdout, "", DefaultMaxConfigBlock)

	require.Len(t, events, 3)
	assert.Equal(t, Fragment("\r"), events[0])
	assert.InDelta(t, 10.0, events[1].(Progress).Percent, 0.0001)
	assert.InDelta(t, 20.0, events[2].(Progress).Percent, 0.0001)
}

func TestDemuxer_NonProgressIsFragment(t *testing.T) {
	events := runDemuxer(t, "\x00\x01media bytes", "", DefaultMaxConfigBlock)

	require.Len(t, events, 1)
	assert.Equal(t, Fragment("\x00\x01media bytes"), events[0])
}

func TestDemuxer_ProgressThenSurroundingBytes(t *testing.T) {
	events := runDemuxer(t, "head Encoding: task 1 of 2, 50.00 %tail\r", "", DefaultMaxConfigBlock)

	require.Len(t, events, 2)
	assert.Equal(t, KindProgress, events[0].Kind())
	assert.Equal(t, Fragment("head tail\r"), events[1])
}

func TestDemuxer_ProgressThenMedia(t *testing.T) {
	events := runDemuxer(t, "Encoding: task 1 of 1, 1.00 %\rMEDIA", "", DefaultMaxConfigBlock)

	require.Len(t, events, 2)
	assert.Equal(t, KindProgress, events[0].Kind())
	assert.Equal(t, Fragment("MEDIA"), events[1])
}

func TestDemuxer_LargeStdoutIsChunked(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, 100_000)
	events := runDemuxer(t, string(payload), "", DefaultMaxConfigBlock)

	frags := eventsOf[Fragment](events)
	require.Len(t, frags, 2)
	assert.Len(t, frags[0], maxStdoutFrame)

	var joined []byte
	for _, f := range frags {
		joined = append(joined, f...)
	}
	assert.Equal(t, payload, joined)
}

func TestDemuxer_StderrLogs(t *testing.T) {
	stderr := "[12:00:00] hb_init: starting libhb thread\n" +
		"Warning: unknown audio codec\n" +
		"ERROR: cannot open file\n" +
		"plain text\r\n"
	events := runDemuxer(t, "", stderr, DefaultMaxConfigBlock)

	assert.Equal(t, []Event{
		Log{Level: LogInfo, Message: "[12:00:00] hb_init: starting libhb thread"},
		Log{Level: LogWarning, Message: "Warning: unknown audio codec"},
		Log{Level: LogError, Message: "ERROR: cannot open file"},
		Log{Level: LogUnknown, Message: "plain text"},
	}, events)
}

func TestDemuxer_ConfigBlock(t *testing.T) {
	stderr := "[12:00:00] before\n" +
		"[12:00:01] json job:\n" +
		sampleJobConfig + "\n" +
		"[12:00:02] after\n"
	events := runDemuxer(t, "", stderr, DefaultMaxConfigBlock)

	require.Len(t, events, 3)
	assert.Equal(t, Log{Level: LogInfo, Message: "[12:00:00] before"}, events[0])

	cfg, ok := events[1].(JobConfig)
	require.True(t, ok)
	assert.Equal(t, "/media/in.mkv", cfg.Source.Path)
	assert.Equal(t, MuxName("av_mp4"), cfg.Destination.Mux)

	assert.Equal(t, Log{Level: LogInfo, Message: "[12:00:02] after"}, events[2])

	for _, l := range eventsOf[Log](events) {
		assert.NotContains(t, l.Message, "json job:")
	}
}

func TestDemuxer_MalformedConfigBlock(t *testing.T) {
	stderr := "json job:\n{\n    \"Source\": [\n}\n"
	events := runDemuxer(t, "", stderr, DefaultMaxConfigBlock)

	require.Len(t, events, 1)
	l, ok := events[0].(Log)
	require.True(t, ok)
	assert.Equal(t, LogError, l.Level)
	assert.Contains(t, l.Message, "decoding job config")
	assert.Contains(t, l.Message, "\"Source\": [")
}

func TestDemuxer_UnterminatedConfigBlock(t *testing.T) {
	stderr := "json job:\n{\n    \"Source\": {}\n"
	events := runDemuxer(t, "", stderr, DefaultMaxConfigBlock)

	require.Len(t, events, 1)
	l := events[0].(Log)
	assert.Equal(t, LogError, l.Level)
	assert.Contains(t, l.Message, "unterminated job config block")
	assert.Contains(t, l.Message, "\"Source\": {}")
}

func TestDemuxer_OversizedConfigBlock(t *testing.T) {
	stderr := "json job:\n{\n" + strings.Repeat("    \"Padding\": 0,\n", 10) + "}\nafter\n"
	events := runDemuxer(t, "", stderr, 64)

	// one error for the abandoned block, then the six padding lines it did
	// not reach, the closing brace and the trailing line
	require.Len(t, events, 9)
	l := events[0].(Log)
	assert.Equal(t, LogError, l.Level)
	assert.Contains(t, l.Message, "exceeded 64 bytes")

	assert.Equal(t, Log{Level: LogUnknown, Message: "}"}, events[len(events)-2])
	assert.Equal(t, Log{Level: LogUnknown, Message: "after"}, events[len(events)-1])
}

func TestDemuxer_PerStreamOrder(t *testing.T) {
	var stdout, stderr strings.Builder
	for i := 1; i <= 50; i++ {
		stdout.WriteString("Encoding: task 1 of 1, " + strconv.Itoa(i) + ".00 %\r")
		stderr.WriteString("[00:00:00] line " + strconv.Itoa(i) + "\n")
	}

	events := runDemuxer(t, stdout.String(), stderr.String(), DefaultMaxConfigBlock)

	progress := eventsOf[Progress](events)
	logs := eventsOf[Log](events)
	require.Len(t, progress, 50)
	require.Len(t, logs, 50)
	for i := range 50 {
		assert.InDelta(t, float64(i+1), progress[i].Percent, 0.0001)
		assert.Equal(t, "[00:00:00] line "+strconv.Itoa(i+1), logs[i].Message)
	}
}

func TestDemuxer_AbandonedConsumerDoesNotBlock(t *testing.T) {
	events := make(chan Event)
	abandoned := make(chan struct{})
	close(abandoned)

	d := newDemuxer(events, abandoned, DefaultMaxConfigBlock, slog.New(slog.DiscardHandler))

	finished := make(chan struct{})
	go func() {
		d.run(strings.NewReader("Encoding: task 1 of 1, 1.00 %\rdata"), strings.NewReader("a\nb\n"))
		d.emit(Done{})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("demuxer blocked on an abandoned consumer")
	}
}

func TestDemuxer_BlockedConsumerBackpressure(t *testing.T) {
	events := make(chan Event)
	d := newDemuxer(events, make(chan struct{}), DefaultMaxConfigBlock, slog.New(slog.DiscardHandler))

	pr, pw := io.Pipe()
	finished := make(chan struct{})
	go func() {
		d.run(pr, strings.NewReader(""))
		close(finished)
	}()

	go func() {
		_, _ = pw.Write([]byte("Encoding: task 1 of 1, 1.00 %\r"))
		_ = pw.Close()
	}()

	select {
	case <-finished:
		t.Fatal("demuxer finished before its event was received")
	case ev := <-events:
		assert.Equal(t, KindProgress, ev.Kind())
	}

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("demuxer did not finish")
	}
}

func TestDemuxer_StderrHeldOpenAfterStdoutEnds(t *testing.T) {
	events := make(chan Event, 16)
	d := newDemuxer(events, make(chan struct{}), DefaultMaxConfigBlock, slog.New(slog.DiscardHandler))
	d.stderrDrain = 200 * time.Millisecond

	errR, errW := io.Pipe()
	t.Cleanup(func() { _ = errW.Close() })
	outR, outW := io.Pipe()

	finished := make(chan struct{})
	go func() {
		d.run(outR, errR)
		close(finished)
	}()

	// stderr stays open; stdout ends once the diagnostics have been read
	_, err := errW.Write([]byte("trailing warning\n" + configMarker + "\n{\n"))
	require.NoError(t, err)
	_, err = outW.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, outW.Close())

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("demuxer waited for stderr EOF after stdout ended")
	}
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	logs := eventsOf[Log](got)
	require.Len(t, logs, 2)
	assert.Equal(t, "trailing warning", logs[0].Message)
	assert.Contains(t, logs[1].Message, "unterminated job config block")
	assert.Equal(t, []Fragment{Fragment("data")}, eventsOf[Fragment](got))
}
