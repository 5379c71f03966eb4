// Package hooks runs the external commands a template set declares before
// and after generation.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/clafollett/mcpgen/internal/generr"
)

// Command is one hook invocation. In YAML it is either a string, split
// with shell quoting rules, or a list of arguments.
type Command struct {
	Argv []string
}

// Parse splits a shell-style command line.
func Parse(line string) (Command, error) {
	argv, err := shellquote.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse hook %q: %w", line, err)
	}
	if len(argv) == 0 {
		return Command{}, fmt.Errorf("hook command is empty")
	}
	return Command{Argv: argv}, nil
}

func (c *Command) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		cmd, err := Parse(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*c = cmd
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := n.Decode(&argv); err != nil {
			return err
		}
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("line %d: hook command is empty", n.Line)
		}
		c.Argv = argv
		return nil
	}
	return fmt.Errorf("line %d: hook must be a string or a list of arguments", n.Line)
}

// String renders the command with shell quoting.
func (c Command) String() string { return shellquote.Join(c.Argv...) }

// Warning reports a failed post-generation hook.
type Warning struct {
	Command string
	Output  string
	Err     error
}

func (w Warning) String() string {
	return fmt.Sprintf("post-hook %q failed: %v", w.Command, w.Err)
}

// Runner executes hooks with the output directory as working directory.
// The environment is inherited from the current process.
type Runner struct {
	dir    string
	logger *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner returns a Runner working in dir.
func NewRunner(dir string, opts ...Option) *Runner {
	r := &Runner{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunPre runs cmds in order and stops at the first failure, which is
// returned as a Hook error.
func (r *Runner) RunPre(ctx context.Context, cmds []Command) error {
	for _, c := range cmds {
		out, err := r.run(ctx, c)
		if err != nil {
			msg := fmt.Sprintf("pre-hook %q failed", c.String())
			if tail := lastLines(out, 5); tail != "" {
				msg += ": " + tail
			}
			return generr.Wrap(generr.Hook, err, "%s", msg)
		}
	}
	return nil
}

// RunPost runs every command in cmds, collecting failures as warnings.
func (r *Runner) RunPost(ctx context.Context, cmds []Command) []Warning {
	var warnings []Warning
	for _, c := range cmds {
		out, err := r.run(ctx, c)
		if err != nil {
			w := Warning{Command: c.String(), Output: out, Err: err}
			r.logger.Warn("post-hook failed", zap.String("command", w.Command), zap.Error(err))
			warnings = append(warnings, w)
		}
	}
	return warnings
}

func (r *Runner) run(ctx context.Context, c Command) (string, error) {
	if len(c.Argv) == 0 {
		return "", fmt.Errorf("hook command is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = r.dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	r.logger.Info("running hook", zap.String("command", c.String()), zap.String("dir", r.dir))
	err := cmd.Run()
	out := buf.String()
	if out != "" {
		r.logger.Debug("hook output", zap.String("command", c.String()), zap.String("output", out))
	}
	return out, err
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
