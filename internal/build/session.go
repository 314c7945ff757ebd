package build

import (
	"errors"
	"time"

	"github.com/relayci/relay-agent/internal/console"
	"github.com/relayci/relay-agent/internal/protocol"
	"go.uber.org/zap"
)

// completionDelay keeps the Building state observable for assignments that
// carry no command at all.
const completionDelay = 100 * time.Millisecond

// Session runs one build assignment end to end: the Building, Completing
// and Completed reports in that order, command execution in between, and
// the console's final flush before Completed goes out.
type Session struct {
	assignment *protocol.BuildAssignment
	console    *console.Streamer
	reporter   *StatusReporter
	executor   *Executor
	log        *zap.Logger
}

func NewSession(assignment *protocol.BuildAssignment, sink *console.Streamer, reporter *StatusReporter, executor *Executor, logger *zap.Logger) *Session {
	return &Session{
		assignment: assignment,
		console:    sink,
		reporter:   reporter,
		executor:   executor,
		log:        logger.With(zap.String("mod", "build"), zap.String("buildId", assignment.BuildId)),
	}
}

// Run executes the assignment and returns the reported result.
func (s *Session) Run() protocol.BuildResult {
	s.log.Info("build started", zap.String("locator", s.assignment.BuildLocator))
	s.reporter.Building(s.assignment.BuildId)

	var err error
	if s.assignment.Command == nil {
		time.Sleep(completionDelay)
	} else {
		err = s.executor.Run(s.assignment.Command)
	}
	result := ResultOf(err)
	if err != nil && !errors.Is(err, ErrCanceled) && s.console != nil {
		s.console.WriteLn("build failed: %v", err)
	}

	s.reporter.Completing(s.assignment.BuildId, result)
	if s.console != nil {
		s.console.Close()
	}
	s.reporter.Completed(s.assignment.BuildId, result)
	s.log.Info("build finished", zap.String("result", string(result)))
	return result
}
