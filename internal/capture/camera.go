package capture

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// FileCamera serves a fixed image from disk. Stands in for a real camera on
// devices where the capture tool writes to a known path.
type FileCamera struct {
	Path string
}

func (f *FileCamera) Capture(ctx context.Context) ([]byte, error) {
	if f.Path == "" {
		return nil, errors.New("camera file path not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("camera file is empty")
	}
	return data, nil
}

// CommandCamera shells out to a capture tool (fswebcam, libcamera-still and
// the like) that writes a jpeg to the output path.
type CommandCamera struct {
	Command string
	Output  string
}

func (c *CommandCamera) Capture(ctx context.Context) ([]byte, error) {
	if c.Command == "" || c.Output == "" {
		return nil, errors.New("capture command not configured")
	}
	parts := strings.Fields(c.Command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.New("capture command failed: " + strings.TrimSpace(string(out)))
	}
	data, err := os.ReadFile(c.Output)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("capture command produced an empty image")
	}
	return data, nil
}
