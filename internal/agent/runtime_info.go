package agent

import (
	"runtime"

	"github.com/relayci/relay-agent/internal/protocol"
)

// SnapshotRuntimeInfo assembles a fresh runtime-info value for an outbound
// ping or status report. Nothing here is cached between sends.
func SnapshotRuntimeInfo(cfg *Config, identity *Identity, state *State) *protocol.AgentRuntimeInfo {
	return &protocol.AgentRuntimeInfo{
		Identifier: protocol.AgentIdentifier{
			HostName:  identity.Hostname,
			IpAddress: identity.IpAddress,
			Uuid:      identity.Uuid,
		},
		RuntimeStatus:   state.RuntimeStatus(),
		BuildLocator:    state.BuildLocator(),
		Location:        cfg.WorkDir,
		UsableSpace:     UsableSpace(cfg.WorkDir),
		OperatingSystem: runtime.GOOS,
		Cookie:          state.Cookie(),
		ElasticAgentId:  cfg.ElasticAgentId,
		ElasticPluginId: cfg.ElasticPluginId,
	}
}
