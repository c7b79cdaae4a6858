// Package clipboard provides the OS clipboard collaborators: a writer
// sink used by the channel server and a polling monitor that detects
// local changes.
package clipboard

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// commandTimeout bounds every external clipboard command.
const commandTimeout = 5 * time.Second

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(content string) error
}

// NewSystemClipboard selects the platform clipboard backed by the usual
// command-line tools.
func NewSystemClipboard() (Clipboard, error) {
	switch runtime.GOOS {
	case "darwin":
		return &commandClipboard{
			readCmd:  []string{"pbpaste"},
			writeCmd: []string{"pbcopy"},
		}, nil
	case "linux":
		if os.Getenv("WAYLAND_DISPLAY") != "" && hasCommand("wl-copy") {
			return &commandClipboard{
				readCmd:  []string{"wl-paste", "--no-newline"},
				writeCmd: []string{"wl-copy"},
			}, nil
		}
		if hasCommand("xclip") {
			return &commandClipboard{
				readCmd:  []string{"xclip", "-selection", "clipboard", "-o"},
				writeCmd: []string{"xclip", "-selection", "clipboard"},
			}, nil
		}
		if hasCommand("xsel") {
			return &commandClipboard{
				readCmd:  []string{"xsel", "--clipboard", "--output"},
				writeCmd: []string{"xsel", "--clipboard", "--input"},
			}, nil
		}
		return nil, fmt.Errorf("no clipboard tool found (install wl-clipboard, xclip, or xsel)")
	case "windows":
		return &commandClipboard{
			readCmd:  []string{"powershell", "-NoProfile", "-Command", "Get-Clipboard -Raw"},
			writeCmd: []string{"powershell", "-NoProfile", "-Command", "$input | Set-Clipboard"},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func hasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// commandClipboard shells out to platform clipboard tools with a timeout
// so a wedged X server cannot hang the caller.
type commandClipboard struct {
	readCmd  []string
	writeCmd []string
}

func (c *commandClipboard) ReadText() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.readCmd[0], c.readCmd[1:]...)
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%s timed out after %v", c.readCmd[0], commandTimeout)
	}
	if err != nil {
		// xclip exits 1 on an empty clipboard.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 && len(out) == 0 {
			return "", nil
		}
		return "", fmt.Errorf("%s failed: %w", c.readCmd[0], err)
	}
	return string(out), nil
}

func (c *commandClipboard) WriteText(content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.writeCmd[0], c.writeCmd[1:]...)
	cmd.Stdin = bytes.NewBufferString(content)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %v", c.writeCmd[0], commandTimeout)
		}
		return fmt.Errorf("%s failed: %w", c.writeCmd[0], err)
	}
	return nil
}

// Memory is an in-process clipboard used by tests and headless deployments.
type Memory struct {
	mu      sync.Mutex
	content string

	// FailWrites forces WriteText to error, for failure-path tests.
	FailWrites bool
}

func (m *Memory) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content, nil
}

func (m *Memory) WriteText(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("clipboard write refused")
	}
	m.content = content
	return nil
}

// normalize strips the trailing newline some clipboard tools append.
func normalize(s string) string {
	return strings.TrimSuffix(s, "\n")
}
