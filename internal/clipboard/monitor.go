package clipboard

import (
	"context"
	"time"

	"github.com/appconnect-dev/appconnect/internal/crypto"
	"github.com/appconnect-dev/appconnect/internal/util"
)

// Monitor polls the clipboard for external changes on its own goroutine
// and reports them through OnChange. It never touches server state
// directly; the callback is expected to hand the content off through a
// thread-safe submission (Server.OnLocalChange).
type Monitor struct {
	clip     Clipboard
	onChange func(content string)

	pollInterval time.Duration
	debounce     time.Duration

	lastHash string
	setCh    chan string
}

// NewMonitor creates a monitor with the given poll and debounce intervals.
// Zero values select the defaults (100ms poll, 500ms debounce).
func NewMonitor(clip Clipboard, onChange func(string), pollInterval, debounce time.Duration) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Monitor{
		clip:         clip,
		onChange:     onChange,
		pollInterval: pollInterval,
		debounce:     debounce,
		setCh:        make(chan string, 4),
	}
}

// Start launches the polling goroutine. It exits when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
	util.LogInfo("clipboard monitoring started")
}

// SetContent writes content to the clipboard and records it as seen, so
// content received from a peer does not bounce straight back as a local
// change. Safe to call from any goroutine.
func (m *Monitor) SetContent(content string) {
	if err := m.clip.WriteText(content); err != nil {
		util.LogError("clipboard write: %v", err)
	}
	select {
	case m.setCh <- content:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case content := <-m.setCh:
			m.lastHash = crypto.Hash(normalize(content))

		case <-ticker.C:
			m.poll(ctx)

		case <-ctx.Done():
			util.LogInfo("clipboard monitoring stopped")
			return
		}
	}
}

func (m *Monitor) drainSets() {
	for {
		select {
		case content := <-m.setCh:
			m.lastHash = crypto.Hash(normalize(content))
		default:
			return
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	m.drainSets()
	content, err := m.clip.ReadText()
	if err != nil {
		util.LogDebug("clipboard read: %v", err)
		return
	}
	content = normalize(content)
	if content == "" {
		return
	}
	hash := crypto.Hash(content)
	if hash == m.lastHash {
		return
	}

	// Debounce: only report if the content is still the same after the
	// quiet period, so a burst of rapid changes yields one notification.
	select {
	case <-time.After(m.debounce):
	case <-ctx.Done():
		return
	}
	settled, err := m.clip.ReadText()
	if err != nil || normalize(settled) != content {
		return
	}
	// A peer write may have landed while we waited; absorb it so
	// received content is not reported back as a local change.
	m.drainSets()
	if hash == m.lastHash {
		return
	}

	m.lastHash = hash
	util.LogInfo("local clipboard changed: %s", util.Snippet(content))
	m.onChange(content)
}
