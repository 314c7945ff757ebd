package build

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/relayci/relay-agent/internal/protocol"
	"go.uber.org/zap"
)

// ErrCanceled marks a build aborted by a cancel request rather than a
// command failure.
var ErrCanceled = errors.New("build canceled")

// DefaultCancelPollInterval is how often a running process checks for a
// pending cancel request.
const DefaultCancelPollInterval = 500 * time.Millisecond

// Executor interprets a build command tree against a session root
// directory, streaming process output to Output and honoring Token at every
// step.
type Executor struct {
	RootDir      string
	Output       io.Writer
	Token        *Token
	PollInterval time.Duration
	Log          *zap.Logger
}

func NewExecutor(rootDir string, output io.Writer, token *Token, logger *zap.Logger) *Executor {
	if output == nil {
		output = io.Discard
	}
	return &Executor{
		RootDir:      rootDir,
		Output:       output,
		Token:        token,
		PollInterval: DefaultCancelPollInterval,
		Log:          logger.With(zap.String("mod", "executor")),
	}
}

type commandFunc func(e *Executor, cmd *protocol.BuildCommand, dir string) error

// One handler per built-in command kind. Populated in init because the
// handlers recurse through the table; never mutated afterwards, so new kinds
// are added here rather than registered at runtime.
var commandFuncs map[string]commandFunc

func init() {
	commandFuncs = map[string]commandFunc{
		protocol.CommandSequence: (*Executor).runSequence,
		protocol.CommandExec:     (*Executor).runExec,
		protocol.CommandGitClone: (*Executor).runGitClone,
	}
}

// Run executes the command tree. It returns nil on success, ErrCanceled
// when a cancel request stopped the build and the failing command's error
// otherwise.
func (e *Executor) Run(cmd *protocol.BuildCommand) error {
	return e.run(cmd, e.RootDir)
}

func (e *Executor) run(cmd *protocol.BuildCommand, inherited string) error {
	if e.Token.Canceled() {
		return ErrCanceled
	}
	dir := inherited
	if cmd.WorkingDirectory != "" {
		dir = ResolveDir(e.RootDir, cmd.WorkingDirectory)
	}
	fn, ok := commandFuncs[cmd.Kind]
	if !ok {
		return fmt.Errorf("unknown build command kind %q", cmd.Kind)
	}
	return fn(e, cmd, dir)
}

// ResolveDir joins a command's working-directory override onto the session
// root. The join is purely lexical; nothing is checked against the
// filesystem.
func ResolveDir(root, override string) string {
	if override == "" {
		return root
	}
	return filepath.Join(root, override)
}

func (e *Executor) runSequence(cmd *protocol.BuildCommand, dir string) error {
	for _, sub := range cmd.SubCommands {
		if e.Token.Canceled() {
			e.Log.Debug("sequence stopped, build canceled")
			return ErrCanceled
		}
		if err := e.run(sub, dir); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runExec(cmd *protocol.BuildCommand, dir string) error {
	if cmd.Command == "" {
		return errors.New("exec command is empty")
	}
	c := exec.Command(cmd.Command, cmd.Args...)
	c.Dir = dir
	c.Env = os.Environ()
	c.Stdout = e.Output
	c.Stderr = e.Output
	return e.runProcess(c)
}

func (e *Executor) runGitClone(cmd *protocol.BuildCommand, dir string) error {
	if cmd.RepoUrl == "" {
		return errors.New("git clone repository url is empty")
	}
	c := exec.Command("git", gitCloneArgs(cmd, dir)...)
	c.Dir = dir
	c.Env = os.Environ()
	c.Stdout = e.Output
	c.Stderr = e.Output
	return e.runProcess(c)
}

func gitCloneArgs(cmd *protocol.BuildCommand, dir string) []string {
	args := []string{"clone"}
	if cmd.Branch != "" {
		args = append(args, "--branch", cmd.Branch)
	}
	dest := cmd.Dest
	switch {
	case dest == "":
		dest = dir
	case !filepath.IsAbs(dest):
		dest = filepath.Join(dir, dest)
	}
	return append(args, cmd.RepoUrl, dest)
}

// runProcess starts the command and waits for it, polling the cancellation
// token. On cancel the process group is killed and ErrCanceled is returned
// in place of the exit status.
func (e *Executor) runProcess(c *exec.Cmd) error {
	setProcessGroup(c)
	if err := c.Start(); err != nil {
		return fmt.Errorf("start %v: %w", c.Args, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()
	poll := time.NewTicker(e.PollInterval)
	defer poll.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("%v: %w", c.Args, err)
			}
			return nil
		case <-poll.C:
			if !e.Token.Canceled() {
				continue
			}
			e.Log.Info("killing canceled process", zap.Any("args", c.Args))
			if err := killProcessGroup(c); err != nil {
				fmt.Fprintf(e.Output, "kill %v failed: %v\n", c.Args, err)
			}
			<-done
			return ErrCanceled
		}
	}
}

// ResultOf maps an executor error to the job result reported upstream.
func ResultOf(err error) protocol.BuildResult {
	switch {
	case err == nil:
		return protocol.ResultPassed
	case errors.Is(err, ErrCanceled):
		return protocol.ResultCancelled
	default:
		return protocol.ResultFailed
	}
}
