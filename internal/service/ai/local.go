package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"llmchat/internal/logging"
)

// ErrInvalidProject is returned for names that are empty, hidden or escape
// the projects root.
var ErrInvalidProject = errors.New("invalid project name")

// LocalBackend runs an agent CLI inside a project directory and streams its
// stdout.
type LocalBackend struct {
	root    string
	command []string
	logger  zerolog.Logger
}

func NewLocalBackend(root string, command []string) *LocalBackend {
	return &LocalBackend{root: root, command: command, logger: logging.Component("local")}
}

// ListProjects returns the visible subdirectories of the projects root.
func (l *LocalBackend) ListProjects() ([]string, error) {
	if l == nil || l.root == "" {
		return []string{}, nil
	}
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read projects root: %w", err)
	}
	projects := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// Project returns a backend bound to one project directory.
func (l *LocalBackend) Project(name string) (Backend, error) {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%q: %w", name, ErrInvalidProject)
	}
	if l.root == "" || len(l.command) == 0 {
		return nil, errors.New("local projects are not configured")
	}
	dir := filepath.Join(l.root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project %q not found", name)
	}
	return &projectBackend{dir: dir, command: l.command, logger: l.logger.With().Str("project", name).Logger()}, nil
}

type projectBackend struct {
	dir     string
	command []string
	logger  zerolog.Logger
}

func (p *projectBackend) Stream(ctx context.Context, req *Request) (Stream, error) {
	prompt := lastUserText(req.Messages)
	if prompt == "" {
		return nil, errors.New("no user message to send")
	}
	args := append([]string(nil), p.command[1:]...)
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, p.command[0], args...)
	cmd.Dir = p.dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	s := &processStream{cmd: cmd, stdout: stdout, buf: make([]byte, 4096)}
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	p.logger.Debug().Str("command", p.command[0]).Msg("local agent started")
	return s, nil
}

func lastUserText(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.User {
			return MessageText(msgs[i])
		}
	}
	return ""
}

type processStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	buf    []byte
	once   sync.Once
	done   bool
}

func (s *processStream) Recv() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	n, err := s.stdout.Read(s.buf)
	if n > 0 {
		return Event{Delta: string(s.buf[:n])}, nil
	}
	if err == nil {
		return Event{}, nil
	}
	s.done = true
	if !errors.Is(err, io.EOF) {
		return Event{}, fmt.Errorf("read output: %w", err)
	}
	if werr := s.wait(); werr != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return Event{}, fmt.Errorf("command failed: %w: %s", werr, msg)
		}
		return Event{}, fmt.Errorf("command failed: %w", werr)
	}
	return Event{}, io.EOF
}

func (s *processStream) wait() error {
	var err error
	s.once.Do(func() { err = s.cmd.Wait() })
	return err
}

func (s *processStream) Close() {
	if !s.done && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
}
