// ABOUTME: Store path derivation: each agent owns one session store file
// ABOUTME: Templates may contain {agentId} and a leading ~ for the home directory

package routing

import (
	"os"
	"path/filepath"
	"strings"
)

// AgentIDPlaceholder is replaced by the normalized agent id in store path templates.
const AgentIDPlaceholder = "{agentId}"

// StorePath returns the session store file for agentID. An empty template uses
// <stateDir>/agents/<agentId>/sessions/sessions.json.
func StorePath(template, stateDir, agentID string) string {
	agentID = NormalizeAgentID(agentID)

	template = strings.TrimSpace(template)
	if template == "" {
		return filepath.Join(stateDir, "agents", agentID, "sessions", "sessions.json")
	}

	path := strings.ReplaceAll(template, AgentIDPlaceholder, agentID)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}

// TranscriptDir is the directory transcripts for agentID live in, next to its store.
func TranscriptDir(storePath string) string {
	return filepath.Dir(storePath)
}
