// Package session owns the VS Code process lifecycle: launching the
// editor with a remote debugging port, attaching to its workbench page
// over CDP, opening the chat panel, and tearing everything down.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vscopilot/internal/automation"
)

const (
	selWorkbench     = "div.monaco-workbench"
	selChatSession   = "div.interactive-session"
	selNewChatAction = `a.action-label[aria-label^="New Chat"]`
)

// Config holds editor launch and attach tuning.
type Config struct {
	Executable      string `yaml:"executable"`
	UserDataDir     string `yaml:"user_data_dir"`
	PortStart       int    `yaml:"port_start"`
	PortEnd         int    `yaml:"port_end"`
	StartPollSecs   int    `yaml:"start_poll_secs"`
	WorkbenchWaitMs int    `yaml:"workbench_wait_ms"`
	ChatOpenWaitMs  int    `yaml:"chat_open_wait_ms"`
	ChatOpenRetries int    `yaml:"chat_open_retries"`
	OutputDir       string `yaml:"output_dir"`
	TerminateWaitMs int    `yaml:"terminate_wait_ms"`
}

// DefaultConfig launches the stock `code` binary with an isolated
// profile so automation never disturbs the user's own editor state.
func DefaultConfig() Config {
	return Config{
		Executable:      "code",
		UserDataDir:     ".vscode-automation-data",
		PortStart:       9222,
		PortEnd:         9300,
		StartPollSecs:   30,
		WorkbenchWaitMs: 30000,
		ChatOpenWaitMs:  60000,
		ChatOpenRetries: 5,
		OutputDir:       "output",
		TerminateWaitMs: 2000,
	}
}

func (c Config) workbenchWait() time.Duration {
	if c.WorkbenchWaitMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.WorkbenchWaitMs) * time.Millisecond
}

func (c Config) terminateWait() time.Duration {
	if c.TerminateWaitMs == 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TerminateWaitMs) * time.Millisecond
}

func (c Config) startPolls() int {
	if c.StartPollSecs == 0 {
		return 30
	}
	return c.StartPollSecs
}

func (c Config) chatOpenRetries() int {
	if c.ChatOpenRetries == 0 {
		return 5
	}
	return c.ChatOpenRetries
}

// Manager is one launched editor instance plus its CDP attachment.
type Manager struct {
	cfg  Config
	log  *zap.Logger
	id   uuid.UUID
	port int

	proc   *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer

	browser *rod.Browser
	rodPage *rod.Page
	page    *automation.Page
}

// Launch starts the editor on a free debugging port, waits for the
// debugger endpoint to answer, attaches, and waits for the workbench to
// render. workspace may be empty to open an empty window.
func Launch(ctx context.Context, cfg Config, workspace string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{cfg: cfg, log: log, id: uuid.New()}

	port, err := FreePort(cfg.PortStart, cfg.PortEnd)
	if err != nil {
		return nil, fmt.Errorf("pick debugging port: %w", err)
	}
	m.port = port

	if err := m.launchProcess(workspace); err != nil {
		return nil, err
	}
	if err := m.waitForDebugger(ctx); err != nil {
		m.killProcess()
		return nil, err
	}
	if err := m.attach(ctx); err != nil {
		m.killProcess()
		return nil, err
	}
	m.log.Info("editor session ready",
		zap.String("session", m.id.String()),
		zap.Int("port", m.port))
	return m, nil
}

// Page returns the automation surface for the workbench document.
func (m *Manager) Page() *automation.Page { return m.page }

// ID identifies this session in logs and artifact names.
func (m *Manager) ID() string { return m.id.String() }

func (m *Manager) launchProcess(workspace string) error {
	args := launchArgs(m.port, m.cfg.UserDataDir, workspace)
	cmd := exec.Command(m.cfg.Executable, args...)
	cmd.Stdout = &m.stdout
	cmd.Stderr = &m.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", m.cfg.Executable, err)
	}
	m.proc = cmd
	m.log.Debug("editor process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("args", args))
	return nil
}

// waitForDebugger polls the CDP /json/version endpoint until the
// embedded browser answers. Process output is folded into the error so
// a crashed launch is diagnosable from the failure alone.
func (m *Manager) waitForDebugger(ctx context.Context) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", m.port)
	client := &http.Client{Timeout: time.Second}
	for i := 0; i < m.cfg.startPolls(); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		resp, err := client.Get(url)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
	return fmt.Errorf("debugger endpoint %s never answered\nstdout: %s\nstderr: %s",
		url, m.stdout.String(), m.stderr.String())
}

func (m *Manager) attach(ctx context.Context) error {
	wsURL, err := launcher.ResolveURL(fmt.Sprintf("127.0.0.1:%d", m.port))
	if err != nil {
		return fmt.Errorf("resolve debugger url: %w", err)
	}
	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect debugger: %w", err)
	}
	m.browser = browser

	pages, err := browser.Pages()
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("no debuggable pages on port %d", m.port)
	}
	m.rodPage = pages[0]
	m.page = automation.NewPage(m.rodPage, m.log)

	if err := m.page.WaitVisible(ctx, selWorkbench, m.cfg.workbenchWait()); err != nil {
		return fmt.Errorf("workbench never rendered: %w", err)
	}
	return nil
}

// OpenChat opens the chat panel with the keyboard shortcut and waits
// for the session container. Early keystrokes can be swallowed while
// the workbench is still wiring itself up, so this retries with a
// growing wait.
func (m *Manager) OpenChat(ctx context.Context) error {
	wait := 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= m.cfg.chatOpenRetries(); attempt++ {
		if err := m.page.Press(ctx, "Control+Alt+I"); err != nil {
			return fmt.Errorf("open chat shortcut: %w", err)
		}
		if err := m.page.WaitVisible(ctx, selChatSession, wait); err == nil {
			return nil
		} else {
			lastErr = err
		}
		m.log.Debug("chat panel not up yet, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
		wait = wait * 3 / 2
	}
	return fmt.Errorf("chat panel never opened: %w", lastErr)
}

// NewChat starts a fresh conversation in the already-open panel,
// preferring the panel's own control and falling back to the keyboard
// shortcut when it is not rendered.
func (m *Manager) NewChat(ctx context.Context) error {
	if err := m.page.Click(ctx, selNewChatAction); err != nil {
		m.log.Debug("new chat control not clickable, using shortcut", zap.Error(err))
		if err := m.page.Press(ctx, "Control+L"); err != nil {
			return fmt.Errorf("new chat shortcut: %w", err)
		}
	}
	return m.page.WaitVisible(ctx, selChatSession, m.cfg.workbenchWait())
}

// Screenshot captures the window into the output directory and returns
// the written path.
func (m *Manager) Screenshot(ctx context.Context, label string) (string, error) {
	data, err := m.page.Screenshot(ctx, false)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.png", time.Now().Format("20060102-150405"), m.id.String()[:8], label)
	path := filepath.Join(m.cfg.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// DumpDOM writes the full document markup into the output directory,
// for post-mortem selector debugging.
func (m *Manager) DumpDOM(ctx context.Context, label string) (string, error) {
	html, err := m.page.HTML(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.html", time.Now().Format("20060102-150405"), m.id.String()[:8], label)
	path := filepath.Join(m.cfg.OutputDir, name)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("write dom dump: %w", err)
	}
	return path, nil
}

// Close detaches from the debugger and terminates the editor process,
// escalating from SIGTERM to SIGKILL if it lingers.
func (m *Manager) Close() error {
	if m.rodPage != nil {
		_ = m.rodPage.Close()
	}
	if m.browser != nil {
		_ = m.browser.Close()
	}
	return m.killProcess()
}

func (m *Manager) killProcess() error {
	if m.proc == nil || m.proc.Process == nil {
		return nil
	}
	proc := m.proc.Process
	_ = proc.Signal(syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- m.proc.Wait() }()
	select {
	case <-done:
	case <-time.After(m.cfg.terminateWait()):
		m.log.Warn("editor ignored SIGTERM, killing", zap.Int("pid", proc.Pid))
		_ = proc.Kill()
		<-done
	}
	m.proc = nil
	return nil
}
