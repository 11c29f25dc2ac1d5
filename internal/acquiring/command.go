package acquiring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"mediamill/internal/queue"
	"mediamill/internal/services"
)

// CommandFetcher shells out to an external downloader (yt-dlp and friends)
// that writes the media to stdout. The reference is appended to the
// configured argument list.
type CommandFetcher struct {
	command   string
	args      []string
	waitDelay time.Duration
}

// NewCommandFetcher builds a fetcher around the configured external command.
func NewCommandFetcher(command string, args []string, waitDelay time.Duration) *CommandFetcher {
	return &CommandFetcher{command: command, args: args, waitDelay: waitDelay}
}

// Binary returns the external command name for health checks.
func (f *CommandFetcher) Binary() string {
	return f.command
}

// Fetch runs the external command with stdout directed at dest. Partial
// output is removed on failure.
func (f *CommandFetcher) Fetch(ctx context.Context, job *queue.Job, dest string, progress ProgressFunc) (err error) {
	defer func() {
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	out, createErr := os.Create(dest)
	if createErr != nil {
		return services.Wrap(services.ErrIO, "acquire", "fetch", "create temp file", createErr)
	}
	defer out.Close()

	args := append(append([]string(nil), f.args...), job.Reference)
	cmd := exec.CommandContext(ctx, f.command, args...)
	cmd.Stdout = &countingWriter{w: out, progress: progress}
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if f.waitDelay > 0 {
		cmd.WaitDelay = f.waitDelay
	}

	runErr := cmd.Run()
	if runErr == nil {
		return out.Close()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "acquire", "fetch",
				fmt.Sprintf("%s exceeded the transfer deadline", f.command), runErr)
		}
		return services.Wrap(services.ErrTransient, "acquire", "fetch",
			fmt.Sprintf("%s cancelled", f.command), runErr)
	}

	detail := fmt.Sprintf("%s failed", f.command)
	if tail := stderr.Tail(); tail != "" {
		detail = fmt.Sprintf("%s: %s", detail, tail)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		// Exit 137 is SIGKILL, usually the kernel OOM killer. Worth a retry
		// once memory pressure passes.
		if exitErr.ExitCode() == 137 {
			return services.Wrap(services.ErrResourceExhausted, "acquire", "fetch", detail, runErr)
		}
	}
	return services.Wrap(services.ErrTransient, "acquire", "fetch", detail, runErr)
}

// tailBuffer keeps the last chunk of writes so error messages can include
// the end of a subprocess's stderr without holding everything in memory.
type tailBuffer struct {
	buf bytes.Buffer
}

const tailLimit = 4 << 10

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if t.buf.Len() > tailLimit {
		data := t.buf.Bytes()
		trimmed := data[len(data)-tailLimit:]
		var next bytes.Buffer
		next.Write(trimmed)
		t.buf = next
	}
	return len(p), nil
}

// Tail returns the captured stderr suffix as a single trimmed line.
func (t *tailBuffer) Tail() string {
	text := strings.TrimSpace(t.buf.String())
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		text = strings.TrimSpace(text[idx+1:])
	}
	return text
}
