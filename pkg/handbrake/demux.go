package handbrake

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// maxStdoutFrame bounds a single stdout read. Progress lines are far shorter,
// so anything this long is media payload and is emitted as it arrives.
const maxStdoutFrame = 64 * 1024

// stderrDrainTimeout bounds how long stderr is still read once stdout has
// ended. A descendant holding stderr open must not delay Done.
const stderrDrainTimeout = 5 * time.Second

// frame is one unit read from a pipe. err is set once, on the final frame.
type frame struct {
	data []byte
	line string
	err  error
}

// demuxer turns the two output pipes of a running job into events.
// It is the only sender on its events channel.
type demuxer struct {
	events    chan<- Event
	abandoned <-chan struct{}
	maxBlock  int
	logger    *slog.Logger

	// stderrDrain caps reading stderr after stdout EOF; zero waits for EOF.
	stderrDrain time.Duration

	buffering bool
	block     strings.Builder
}

func newDemuxer(events chan<- Event, abandoned <-chan struct{}, maxBlock int, logger *slog.Logger) *demuxer {
	return &demuxer{
		events:      events,
		abandoned:   abandoned,
		maxBlock:    maxBlock,
		logger:      logger,
		stderrDrain: stderrDrainTimeout,
	}
}

// run consumes both pipes until stdout reports end-of-stream. Reads race:
// the select below handles whichever pipe produced data first, so only the
// order within one pipe is preserved. Stderr is drained after stdout ends,
// for at most stderrDrain, so that trailing diagnostics are not lost.
func (d *demuxer) run(stdout, stderr io.Reader) {
	stop := make(chan struct{})
	defer close(stop)

	stdoutFrames := make(chan frame)
	stderrFrames := make(chan frame)

	go readCRFrames(stdout, stdoutFrames, stop)
	go readLines(stderr, stderrFrames, stop)

	var drain <-chan time.Time
	for stdoutFrames != nil || stderrFrames != nil {
		select {
		case f := <-stdoutFrames:
			if f.err != nil {
				d.logReadEnd("stdout", f.err)
				stdoutFrames = nil
				if stderrFrames != nil && d.stderrDrain > 0 {
					t := time.NewTimer(d.stderrDrain)
					defer t.Stop()
					drain = t.C
				}
				continue
			}
			d.handleStdout(f.data)
		case f := <-stderrFrames:
			if f.err != nil {
				d.logReadEnd("stderr", f.err)
				d.flushBlock("unterminated job config block")
				stderrFrames = nil
				continue
			}
			d.handleStderr(f.line)
		case <-drain:
			d.logger.Debug("stderr still open after stdout ended, no longer reading it",
				slog.Duration("waited", d.stderrDrain),
			)
			d.flushBlock("unterminated job config block")
			stderrFrames = nil
		}
	}
}

func (d *demuxer) logReadEnd(stream string, err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	d.logger.Debug("output pipe read ended",
		slog.String("stream", stream),
		slog.String("error", err.Error()),
	)
}

// handleStdout classifies one carriage-return frame.
func (d *demuxer) handleStdout(data []byte) {
	p, start, end, ok := matchProgress(data)
	if !ok {
		d.emit(Fragment(data))
		return
	}

	d.emit(p)
	if rest := surrounding(data, start, end); len(rest) > 0 {
		d.emit(Fragment(rest))
	}
}

// surrounding returns the bytes of data outside [start, end). A lone carriage
// return right after the match is the progress line's own terminator and is dropped.
func surrounding(data []byte, start, end int) []byte {
	after := data[end:]
	if len(after) == 1 && after[0] == '\r' {
		after = nil
	}
	if start == 0 && len(after) == 0 {
		return nil
	}
	rest := make([]byte, 0, start+len(after))
	rest = append(rest, data[:start]...)
	return append(rest, after...)
}

// handleStderr classifies one diagnostic line.
func (d *demuxer) handleStderr(line string) {
	if d.buffering {
		d.block.WriteString(line)
		d.block.WriteByte('\n')

		if isConfigBlockEnd(line) {
			d.finishBlock()
			return
		}
		if d.maxBlock > 0 && d.block.Len() > d.maxBlock {
			d.flushBlock(fmt.Sprintf("job config block exceeded %d bytes", d.maxBlock))
		}
		return
	}

	if isConfigMarker(line) {
		d.buffering = true
		return
	}

	d.emit(Log{Level: classifyLog(line), Message: line})
}

func (d *demuxer) finishBlock() {
	raw := d.block.String()
	d.resetBlock()

	cfg, err := decodeJobConfig(raw)
	if err != nil {
		d.emit(Log{Level: LogError, Message: fmt.Sprintf("%v\n%s", err, strings.TrimRight(raw, "\n"))})
		return
	}
	d.emit(cfg)
}

// flushBlock gives up on a block in progress and surfaces its raw text.
func (d *demuxer) flushBlock(reason string) {
	if !d.buffering {
		return
	}
	raw := d.block.String()
	d.resetBlock()
	d.emit(Log{Level: LogError, Message: fmt.Sprintf("%s\n%s", reason, strings.TrimRight(raw, "\n"))})
}

func (d *demuxer) resetBlock() {
	d.buffering = false
	d.block.Reset()
}

// emit delivers ev, blocking while the channel is full. Once the consumer has
// abandoned the job the event is dropped instead.
func (d *demuxer) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.abandoned:
	}
}

// readCRFrames splits r at carriage returns, keeping the delimiter.
func readCRFrames(r io.Reader, out chan<- frame, stop <-chan struct{}) {
	br := bufio.NewReaderSize(r, maxStdoutFrame)
	for {
		data, err := br.ReadSlice('\r')
		if len(data) > 0 && !send(out, frame{data: bytes.Clone(data)}, stop) {
			return
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			send(out, frame{err: err}, stop)
			return
		}
	}
}

// readLines splits r into newline-terminated lines with the terminator removed.
func readLines(r io.Reader, out chan<- frame, stop <-chan struct{}) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if !send(out, frame{line: strings.ToValidUTF8(line, "\uFFFD")}, stop) {
				return
			}
		}
		if err != nil {
			send(out, frame{err: err}, stop)
			return
		}
	}
}

// send delivers f unless the demuxer has stopped listening. A reader whose
// pipe is still open exits on its next read error, once Wait closes the pipe.
func send(out chan<- frame, f frame, stop <-chan struct{}) bool {
	select {
	case out <- f:
		return true
	case <-stop:
		return false
	}
}
