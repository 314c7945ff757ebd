package build

import (
	"github.com/relayci/relay-agent/internal/protocol"
	"go.uber.org/zap"
)

// Sender delivers outbound protocol messages. The agent's session transport
// implements it; tests substitute a capturing fake.
type Sender interface {
	Send(msg *protocol.Message) error
}

// StatusReporter turns job lifecycle transitions into protocol messages,
// attaching a fresh runtime-info snapshot to each. Sends are fire and
// forget: a failed send is logged and the build carries on, reconnection is
// the supervisor's job.
type StatusReporter struct {
	sender Sender
	info   func() *protocol.AgentRuntimeInfo
	log    *zap.Logger
}

func NewStatusReporter(sender Sender, info func() *protocol.AgentRuntimeInfo, logger *zap.Logger) *StatusReporter {
	return &StatusReporter{
		sender: sender,
		info:   info,
		log:    logger.With(zap.String("mod", "reporter")),
	}
}

func (r *StatusReporter) Building(buildId string) {
	r.report(protocol.ReportCurrentStatusAction, buildId, protocol.JobStateBuilding, "")
}

func (r *StatusReporter) Completing(buildId string, result protocol.BuildResult) {
	r.report(protocol.ReportCompletingAction, buildId, protocol.JobStateCompleting, result)
}

func (r *StatusReporter) Completed(buildId string, result protocol.BuildResult) {
	r.report(protocol.ReportCompletedAction, buildId, protocol.JobStateCompleted, result)
}

func (r *StatusReporter) report(action, buildId, jobState string, result protocol.BuildResult) {
	msg := protocol.ReportMessage(action, &protocol.Report{
		AgentRuntimeInfo: r.info(),
		BuildId:          buildId,
		JobState:         jobState,
		Result:           string(result),
	})
	if err := r.sender.Send(msg); err != nil {
		r.log.Warn("status report not delivered",
			zap.String("action", action),
			zap.String("buildId", buildId),
			zap.Error(err))
	}
}
