// ABOUTME: Wire types for the agent check-in exchange
// ABOUTME: JSON request/response bodies shared by the agent, dispatch service, and tests

package protocol

import "time"

// HeaderAgentID carries the agent id redundantly at the transport level
// so listeners can route without parsing the body.
const HeaderAgentID = "X-Agent-ID"

// CheckinRequest is the JSON body an agent POSTs on every check-in.
// SystemInfo is only populated on the very first exchange. SleepInterval and
// JitterPercent report the agent's current beacon timing so the coordinator
// can derive presence from it; a sleep verb shows up here on the next
// exchange.
type CheckinRequest struct {
	AgentID       string             `json:"agentId"`
	Timestamp     time.Time          `json:"timestamp"`
	SleepInterval int                `json:"sleepInterval,omitempty"`
	JitterPercent int                `json:"jitterPercent,omitempty"`
	Results       []ResultSubmission `json:"results,omitempty"`
	SystemInfo    *SystemInfo        `json:"systemInfo,omitempty"`
}

// ResultSubmission is one buffered work result bundled into a check-in.
type ResultSubmission struct {
	WorkItemID string    `json:"workItemId"`
	Success    bool      `json:"success"`
	Output     string    `json:"output"`
	Timestamp  time.Time `json:"timestamp"`
}

// CheckinResponse is the JSON body the coordinator returns on a successful
// exchange. Commands are in creation order; each appears in exactly one
// response.
type CheckinResponse struct {
	Commands []Command `json:"commands"`
}

// Command is one unit of dispatched work as seen on the wire.
type Command struct {
	ID   string            `json:"id"`
	Verb string            `json:"verb"`
	Args map[string]string `json:"args,omitempty"`
}

// SystemInfo is the environment snapshot captured once at agent startup.
type SystemInfo struct {
	Hostname   string   `json:"hostname"`
	Username   string   `json:"username"`
	OS         string   `json:"os"`
	Arch       string   `json:"arch"`
	PID        int      `json:"pid"`
	WorkingDir string   `json:"workingDir"`
	NumCPU     int      `json:"numCpu"`
	GoVersion  string   `json:"goVersion"`
	Addresses  []string `json:"addresses,omitempty"`
}

// ErrorResponse is the JSON body returned for protocol violations.
type ErrorResponse struct {
	Error string `json:"error"`
}
