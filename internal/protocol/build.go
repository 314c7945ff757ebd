package protocol

// Built-in build command kinds.
const (
	CommandSequence = "sequence"
	CommandExec     = "exec"
	CommandGitClone = "gitClone"
)

// Job lifecycle states reported to the server, in order.
const (
	JobStateBuilding   = "Building"
	JobStateCompleting = "Completing"
	JobStateCompleted  = "Completed"
)

// BuildResult is the terminal outcome of a completed build.
type BuildResult string

const (
	ResultPassed    BuildResult = "Passed"
	ResultFailed    BuildResult = "Failed"
	ResultCancelled BuildResult = "Cancelled"
)

// Agent runtime statuses carried in runtime info snapshots.
const (
	RuntimeStatusIdle     = "Idle"
	RuntimeStatusBuilding = "Building"
)

// BuildAssignment is one unit of work handed to the agent: a command tree
// plus where its console output should be uploaded.
type BuildAssignment struct {
	BuildId      string        `json:"buildId"`
	BuildLocator string        `json:"buildLocator,omitempty"`
	ConsoleUrl   string        `json:"consoleUrl,omitempty"`
	Command      *BuildCommand `json:"command,omitempty"`
}

// BuildCommand is one node of the command tree. Kind selects which of the
// remaining fields are meaningful: a sequence only has SubCommands, an exec
// has Command/Args, a gitClone has RepoUrl/Branch/Dest. WorkingDirectory,
// when set, is joined onto the session root; otherwise the node inherits
// its parent's directory. Nodes are never mutated after decoding.
type BuildCommand struct {
	Kind             string          `json:"kind"`
	Command          string          `json:"command,omitempty"`
	Args             []string        `json:"args,omitempty"`
	RepoUrl          string          `json:"repoUrl,omitempty"`
	Branch           string          `json:"branch,omitempty"`
	Dest             string          `json:"dest,omitempty"`
	WorkingDirectory string          `json:"workingDirectory,omitempty"`
	SubCommands      []*BuildCommand `json:"subCommands,omitempty"`
}

func SequenceCommand(commands ...*BuildCommand) *BuildCommand {
	return &BuildCommand{Kind: CommandSequence, SubCommands: commands}
}

func ExecCommand(args ...string) *BuildCommand {
	cmd := &BuildCommand{Kind: CommandExec}
	if len(args) > 0 {
		cmd.Command = args[0]
		cmd.Args = args[1:]
	}
	return cmd
}

func GitCloneCommand(repoUrl, branch, dest string) *BuildCommand {
	return &BuildCommand{Kind: CommandGitClone, RepoUrl: repoUrl, Branch: branch, Dest: dest}
}

// Setwd sets the working-directory override and returns the command for
// chained construction.
func (cmd *BuildCommand) Setwd(wd string) *BuildCommand {
	cmd.WorkingDirectory = wd
	return cmd
}

// AgentIdentifier names one agent instance across reconnects.
type AgentIdentifier struct {
	HostName  string `json:"hostName"`
	IpAddress string `json:"ipAddress"`
	Uuid      string `json:"uuid"`
}

// AgentRuntimeInfo is a point-in-time snapshot sent with every ping and
// status report. It is rebuilt fresh for each send, never cached.
type AgentRuntimeInfo struct {
	Identifier      AgentIdentifier `json:"identifier"`
	RuntimeStatus   string          `json:"runtimeStatus"`
	BuildLocator    string          `json:"buildLocator,omitempty"`
	Location        string          `json:"location"`
	UsableSpace     int64           `json:"usableSpace"`
	OperatingSystem string          `json:"operatingSystemName"`
	Cookie          string          `json:"cookie,omitempty"`
	ElasticAgentId  string          `json:"elasticAgentId,omitempty"`
	ElasticPluginId string          `json:"elasticPluginId,omitempty"`
}

// Report is the payload of the three job status report actions.
type Report struct {
	AgentRuntimeInfo *AgentRuntimeInfo `json:"agentRuntimeInfo"`
	BuildId          string            `json:"buildId"`
	JobState         string            `json:"jobState"`
	Result           string            `json:"result,omitempty"`
}
