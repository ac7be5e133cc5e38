package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"github.com/camden-git/framearchive/logging"
)

// ErrCompressor is returned when the external compression tool fails.
var ErrCompressor = errs.Class("compressor")

// Compressor turns a FITS file into its archived (compressed) form.
type Compressor interface {
	Compress(ctx context.Context, data []byte) ([]byte, error)
}

// FpackCompressor pipes data through an fpack-compatible executable reading
// stdin and writing stdout.
type FpackCompressor struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// NewFpackCompressor creates a compressor running path with args. a zero
// timeout leaves the call bounded only by the caller's context.
func NewFpackCompressor(path string, args []string, timeout time.Duration) *FpackCompressor {
	return &FpackCompressor{Path: path, Args: args, Timeout: timeout}
}

// Name returns the executable used.
func (c *FpackCompressor) Name() string {
	return c.Path
}

// IsAvailable reports whether the executable can be found.
func (c *FpackCompressor) IsAvailable() bool {
	_, err := exec.LookPath(c.Path)
	return err == nil
}

func (c *FpackCompressor) Compress(ctx context.Context, data []byte) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ErrCompressor.New("%s timed out after %s", c.Path, time.Since(start).Round(time.Millisecond))
		}
		return nil, ErrCompressor.Wrap(ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, ErrCompressor.New("%s exited with code %d: %s", c.Path, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, ErrCompressor.Wrap(err)
	}
	if stdout.Len() == 0 {
		return nil, ErrCompressor.New("%s produced no output", c.Path)
	}

	logging.Debug().
		Str("tool", c.Path).
		Int("in_bytes", len(data)).
		Int("out_bytes", stdout.Len()).
		Dur("took", time.Since(start)).
		Msg("media.compressor: compressed file")
	return stdout.Bytes(), nil
}
