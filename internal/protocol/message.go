package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Actions exchanged between the agent and the server.
const (
	PingAction          = "ping"
	AckAction           = "ack"
	AgentPresenceAction = "agentPresence"

	SetCookieAction   = "setCookie"
	ReregisterAction  = "reregister"
	CancelBuildAction = "cancelBuild"
	BuildAction       = "build"

	ReportCurrentStatusAction = "reportCurrentStatus"
	ReportCompletingAction    = "reportCompleting"
	ReportCompletedAction     = "reportCompleted"
)

// Message is one JSON frame on the agent channel. Data carries an
// action-specific payload; the typed accessors below decode it.
type Message struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	AckId  string          `json:"ackId,omitempty"`
}

func newMessage(action string, data interface{}) *Message {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return &Message{
		Action: action,
		Data:   raw,
		AckId:  uuid.NewString(),
	}
}

// DataString decodes the payload as a bare JSON string, used by setCookie
// and cancelBuild frames.
func (m *Message) DataString() (string, error) {
	var str string
	err := json.Unmarshal(m.Data, &str)
	return str, err
}

// DataBuild decodes the payload as a build assignment.
func (m *Message) DataBuild() (*BuildAssignment, error) {
	var build BuildAssignment
	if err := json.Unmarshal(m.Data, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// DataReport decodes the payload as a job status report.
func (m *Message) DataReport() (*Report, error) {
	var report Report
	if err := json.Unmarshal(m.Data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func PingMessage(info *AgentRuntimeInfo) *Message {
	return newMessage(PingAction, info)
}

func SetCookieMessage(cookie string) *Message {
	return newMessage(SetCookieAction, cookie)
}

func CancelBuildMessage(buildId string) *Message {
	return newMessage(CancelBuildAction, buildId)
}

func BuildMessage(build *BuildAssignment) *Message {
	return newMessage(BuildAction, build)
}

func ReportMessage(action string, report *Report) *Message {
	return newMessage(action, report)
}

func ReregisterMessage() *Message {
	return &Message{Action: ReregisterAction}
}
