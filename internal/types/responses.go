package types

// WSConfigResponse is sent in response to config/get.
// Secrets are redacted before the snapshot is sent.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`             // "<command>_result"
	Success bool             `json:"success"`          // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"`  // Validation errors if failed
	Notice  *Notice          `json:"notice,omitempty"` // Pipeline failure surfaced to the user
	Data    any              `json:"data,omitempty"`   // Optional response data
}
