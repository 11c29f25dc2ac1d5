// Package transcoding runs the ffmpeg subprocess that converts acquired
// source media into the requested output format. It owns argument
// construction, progress parsing, the hard wall-clock limit, and the
// classification of subprocess failures.
package transcoding

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"mediamill/internal/config"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
)

// ProgressFunc receives percent-complete updates parsed from ffmpeg's
// progress stream. Implementations must not block.
type ProgressFunc func(percent float64)

// Engine drives ffmpeg and ffprobe.
type Engine struct {
	ffmpeg       string
	ffprobe      string
	timeout      time.Duration
	waitDelay    time.Duration
	audioBitrate string
	videoPreset  string
	logger       *slog.Logger
}

// NewEngine builds an engine from configuration.
func NewEngine(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		ffmpeg:       cfg.Engine.FFmpegBinary,
		ffprobe:      cfg.Engine.FFprobeBinary,
		timeout:      cfg.EngineTimeout(),
		waitDelay:    cfg.CancelGrace(),
		audioBitrate: cfg.Engine.AudioBitrate,
		videoPreset:  cfg.Engine.VideoPreset,
		logger:       logging.NewComponentLogger(logger, "engine"),
	}
}

// Binaries returns the external executables the engine depends on.
func (e *Engine) Binaries() []string {
	return []string{e.ffmpeg, e.ffprobe}
}

// Transcode converts inputPath into outputPath for the given format. The run
// is bounded by the engine timeout; on expiry the subprocess is stopped and
// a timeout error is returned. Exit by SIGKILL maps to a transient error so
// OOM-killed runs stay retryable.
func (e *Engine) Transcode(ctx context.Context, inputPath, outputPath string, format queue.Format, progress ProgressFunc) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	duration, err := e.probeDuration(runCtx, inputPath)
	if err != nil {
		e.logger.Warn("could not probe duration, progress will be coarse", logging.Error(err))
	}

	args := buildArgs(inputPath, outputPath, format, e.audioBitrate, e.videoPreset)
	cmd := exec.CommandContext(runCtx, e.ffmpeg, args...)
	if e.waitDelay > 0 {
		cmd.WaitDelay = e.waitDelay
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrIO, "transcode", "run", "create ffmpeg stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return services.Wrap(services.ErrIO, "transcode", "run", "create ffmpeg stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrPermanent, "transcode", "run",
			fmt.Sprintf("start %s", e.ffmpeg), err)
	}

	var lastErrLine string
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lastErrLine = line
			}
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "out_time_ms="):
			if duration <= 0 || progress == nil {
				continue
			}
			if outMs, convErr := strconv.ParseFloat(strings.TrimPrefix(line, "out_time_ms="), 64); convErr == nil {
				ratio := (outMs / 1_000_000.0) / duration
				if ratio < 0 {
					ratio = 0
				}
				if ratio > 1 {
					ratio = 1
				}
				progress(ratio * 100)
			}
		case strings.HasPrefix(line, "progress=end"):
			if progress != nil {
				progress(100)
			}
		}
	}

	waitErr := cmd.Wait()
	<-stderrDone
	if waitErr == nil {
		return nil
	}
	return e.classifyRunError(runCtx, waitErr, lastErrLine)
}

func (e *Engine) classifyRunError(ctx context.Context, waitErr error, lastErrLine string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "transcode", "run",
			fmt.Sprintf("%s exceeded the transcode deadline", e.ffmpeg), waitErr)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return services.Wrap(services.ErrTransient, "transcode", "run", "transcode cancelled", waitErr)
	}

	detail := fmt.Sprintf("%s failed", e.ffmpeg)
	if lastErrLine != "" {
		detail = fmt.Sprintf("%s: %s", detail, lastErrLine)
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 137 {
		// SIGKILL, almost always the kernel OOM killer. Memory pressure is
		// momentary contention, so the run stays eligible for retry.
		return services.Wrap(services.ErrTransient, "transcode", "run", detail, waitErr)
	}
	// Nonzero exits usually mean the input is corrupt or unsupported;
	// re-running the same input will not help.
	return services.Wrap(services.ErrPermanent, "transcode", "run", detail, waitErr)
}

func (e *Engine) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx,
		e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return 0, errors.New("ffprobe returned no duration")
	}
	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return duration, nil
}

// buildArgs assembles the ffmpeg invocation for the target format. Audio
// jobs drop the video stream and encode mp3; video jobs remux into mp4 with
// a bounded re-encode preset.
func buildArgs(inputPath, outputPath string, format queue.Format, audioBitrate, videoPreset string) []string {
	args := []string{"-y", "-i", inputPath}

	switch format {
	case queue.FormatAudio:
		args = append(args,
			"-vn",
			"-f", "mp3",
			"-codec:a", "libmp3lame",
			"-b:a", audioBitrate,
		)
	default:
		args = append(args,
			"-f", "mp4",
			"-codec:v", "libx264",
			"-preset", videoPreset,
			"-codec:a", "aac",
			"-b:a", audioBitrate,
			"-movflags", "+faststart",
		)
	}

	args = append(args,
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	)
	return args
}
