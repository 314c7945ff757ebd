package agent

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Server paths consumed by the agent. The registration endpoints are owned
// by the server; the agent only knows where they live.
const (
	defaultServerUrl = "https://localhost:8153"

	webSocketPath    = "/agent-websocket"
	registrationPath = "/admin/agent"
	tokenPath        = "/admin/agent/token"

	agentIdFileName = "agent-id"
)

// Config is the agent configuration, merged from a YAML file, environment
// defaults and command-line flags.
type Config struct {
	ServerUrl string `yaml:"server_url"`
	WorkDir   string `yaml:"work_dir"`
	ConfigDir string `yaml:"config_dir"`
	LogLevel  string `yaml:"log_level"`

	AutoRegisterKey          string `yaml:"auto_register_key"`
	AutoRegisterResources    string `yaml:"auto_register_resources"`
	AutoRegisterEnvironments string `yaml:"auto_register_environments"`
	ElasticAgentId           string `yaml:"elastic_agent_id"`
	ElasticPluginId          string `yaml:"elastic_plugin_id"`
}

// DefaultConfig returns a config pre-filled from the environment.
func DefaultConfig() *Config {
	workDir, _ := os.Getwd()
	return &Config{
		ServerUrl: readEnv("RELAY_SERVER_URL", defaultServerUrl),
		WorkDir:   readEnv("RELAY_AGENT_WORK_DIR", workDir),
		ConfigDir: readEnv("RELAY_AGENT_CONFIG_DIR", "config"),
		LogLevel:  readEnv("RELAY_AGENT_LOG_LEVEL", "info"),

		AutoRegisterKey:          os.Getenv("RELAY_AGENT_AUTO_REGISTER_KEY"),
		AutoRegisterResources:    os.Getenv("RELAY_AGENT_AUTO_REGISTER_RESOURCES"),
		AutoRegisterEnvironments: os.Getenv("RELAY_AGENT_AUTO_REGISTER_ENVIRONMENTS"),
		ElasticAgentId:           os.Getenv("RELAY_AGENT_ELASTIC_AGENT_ID"),
		ElasticPluginId:          os.Getenv("RELAY_AGENT_ELASTIC_PLUGIN_ID"),
	}
}

// LoadConfig reads the first existing config file from paths over the
// environment defaults. A missing file is not an error; a malformed one is.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %v: %w", path, err)
		}
		break
	}
	return cfg, nil
}

// ServerBaseUrl parses the configured server URL (scheme + host).
func (c *Config) ServerBaseUrl() (*url.URL, error) {
	u, err := url.Parse(c.ServerUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", c.ServerUrl, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host required", c.ServerUrl)
	}
	return u, nil
}

// WebSocketUrl derives the persistent-session endpoint from the server URL,
// switching the scheme to its websocket counterpart.
func (c *Config) WebSocketUrl() (string, error) {
	u, err := c.ServerBaseUrl()
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = webSocketPath
	return u.String(), nil
}

func (c *Config) RegistrationUrl() (string, error) {
	u, err := c.ServerBaseUrl()
	if err != nil {
		return "", err
	}
	u.Path = registrationPath
	return u.String(), nil
}

func (c *Config) TokenUrl(uuid string) (string, error) {
	u, err := c.ServerBaseUrl()
	if err != nil {
		return "", err
	}
	u.Path = tokenPath
	u.RawQuery = url.Values{"uuid": {uuid}}.Encode()
	return u.String(), nil
}

// AgentIdFile is where the generated agent identity is persisted.
func (c *Config) AgentIdFile() string {
	return filepath.Join(c.ConfigDir, agentIdFileName)
}

func readEnv(name, defaultVal string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return defaultVal
}
