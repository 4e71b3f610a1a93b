package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

var encodeFlags jobFlags

var encodeCmd = &cobra.Command{
	Use:   "encode INPUT OUTPUT",
	Short: "Run an encode and report its progress",
	Long: `Run HandBrakeCLI and parse its output. Progress is printed to standard
error, the job configuration is summarised once HandBrakeCLI reports it and
warnings and errors are logged. Use - for standard input or standard
output.

The first interrupt (Ctrl-C) asks HandBrakeCLI to stop; a second one kills it.`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

func init() {
	encodeFlags.register(encodeCmd.Flags())
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := encodeFlags.request(cmd.Flags(), args[0], args[1])
	if err != nil {
		return err
	}
	logger := slog.Default()

	hb, err := newHandBrake(cmd.Context(), cfg.HandBrake, logger)
	if err != nil {
		return err
	}

	// registered before Start so that an early Ctrl-C is not lost
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	h, err := req.Configure(hb.Job(inputSource(req.Input), outputDestination(req.Output))).Start()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	pr := newProgressPrinter(stderr)

	// with a stdout destination the fragments are the encoded media
	var media io.Writer
	if req.Output == "-" {
		media = cmd.OutOrStdout()
	}

	var done handbrake.Done
	var writeErr error
	interrupts := 0
	for events := h.Events(); events != nil; {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch e := ev.(type) {
			case handbrake.Progress:
				pr.progress(e)
			case handbrake.JobConfig:
				pr.clear()
				printJobConfig(stderr, e)
			case handbrake.Log:
				logHandBrakeLine(logger, e)
			case handbrake.Fragment:
				if media == nil {
					logger.Debug("unrecognised HandBrakeCLI output", slog.Int("bytes", len(e)))
					continue
				}
				if writeErr != nil {
					continue
				}
				if _, err := media.Write(e); err != nil {
					writeErr = err
					logger.Error("writing encoded output failed, stopping HandBrakeCLI", slog.String("error", err.Error()))
					_ = h.Cancel()
				}
			case handbrake.Done:
				done = e
			}
		case <-sigs:
			interrupts++
			pr.clear()
			if interrupts == 1 {
				fmt.Fprintln(stderr, "stopping HandBrakeCLI, interrupt again to kill it")
				_ = h.Cancel()
			} else {
				_ = h.Kill()
			}
		}
	}
	pr.clear()

	if writeErr != nil {
		return fmt.Errorf("writing encoded output: %w", writeErr)
	}
	if !done.Success() {
		code := 1
		if done.Failure.ExitCode != nil {
			code = *done.Failure.ExitCode
		}
		if interrupts > 0 {
			code = 130
		}
		return &exitError{code: code, err: done.Err()}
	}

	summary := fmt.Sprintf("encode finished in %s", done.Elapsed.Round(time.Second))
	if req.Output != "-" {
		if info, err := os.Stat(req.Output); err == nil {
			summary += fmt.Sprintf(", wrote %s (%s)", req.Output, humanize.IBytes(uint64(info.Size())))
		}
	}
	fmt.Fprintln(stderr, summary)
	return nil
}

// logHandBrakeLine routes a HandBrakeCLI log line to the matching level.
// Informational lines are only shown at debug level.
func logHandBrakeLine(logger *slog.Logger, l handbrake.Log) {
	level := slog.LevelDebug
	switch l.Level {
	case handbrake.LogWarning:
		level = slog.LevelWarn
	case handbrake.LogError:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, l.Message, slog.String("source", "HandBrakeCLI"))
}

func printJobConfig(w io.Writer, c handbrake.JobConfig) {
	fmt.Fprintf(w, "source:      %s (title %d)\n", c.Source.Path, c.Source.Title)
	fmt.Fprintf(w, "destination: %s [%s]\n", c.Destination.File, c.Destination.Mux)
	video := c.Video.Encoder
	if c.Video.Preset != "" {
		video += ", preset " + c.Video.Preset
	}
	fmt.Fprintf(w, "video:       %s, quality %s\n", video, handbrake.FormatQuality(c.Video.Quality))
	for _, a := range c.Audio.Tracks {
		fmt.Fprintf(w, "audio:       track %d, %s", a.Track, a.Encoder)
		if a.Bitrate > 0 {
			fmt.Fprintf(w, " %d kb/s", a.Bitrate)
		}
		fmt.Fprintln(w)
	}
}

// progressPrinter redraws one status line on a terminal. On anything else
// it prints a line whenever the percentage crosses a multiple of lineStep.
type progressPrinter struct {
	w        io.Writer
	tty      bool
	drawn    int
	lastStep int
}

const lineStep = 10

func newProgressPrinter(w io.Writer) *progressPrinter {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressPrinter{w: w, tty: tty, lastStep: -1}
}

func (p *progressPrinter) progress(e handbrake.Progress) {
	line := formatProgress(e)
	if p.tty {
		pad := ""
		if n := p.drawn - len(line); n > 0 {
			pad = strings.Repeat(" ", n)
		}
		fmt.Fprint(p.w, "\r"+line+pad)
		p.drawn = len(line)
		return
	}
	if step := int(e.Percent) / lineStep; step > p.lastStep {
		p.lastStep = step
		fmt.Fprintln(p.w, line)
	}
}

// clear erases the status line so that other output starts on a fresh line.
func (p *progressPrinter) clear() {
	if p.tty && p.drawn > 0 {
		fmt.Fprint(p.w, "\r"+strings.Repeat(" ", p.drawn)+"\r")
		p.drawn = 0
	}
}

func formatProgress(e handbrake.Progress) string {
	var b strings.Builder
	if e.TaskCount > 1 {
		fmt.Fprintf(&b, "task %d/%d, ", e.Task, e.TaskCount)
	}
	fmt.Fprintf(&b, "%6.2f %%", e.Percent)
	if e.FPS > 0 {
		fmt.Fprintf(&b, " (%.2f fps", e.FPS)
		if e.AvgFPS != nil {
			fmt.Fprintf(&b, ", avg %.2f fps", *e.AvgFPS)
		}
		if e.ETA != nil {
			fmt.Fprintf(&b, ", ETA %s", e.ETA.Round(time.Second))
		}
		b.WriteString(")")
	}
	return b.String()
}
