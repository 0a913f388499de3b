package api

import "time"

// Command types understood by the terminal layer.
const (
	CommandText  = "TEXT"
	CommandLine  = "LINE"
	CommandKey   = "KEY"
	CommandCombo = "COMBO"
)

// CommandMessage is a request to perform one terminal action.
// It is a value type: use WithRisk to obtain an annotated copy.
type CommandMessage struct {
	ID        string
	Origin    string
	Timestamp time.Time
	SessionID string

	// Command is the command type (TEXT, LINE, KEY, COMBO or a custom type).
	Command string
	// Parameter holds the text, key name or key combination.
	Parameter string

	// Risk is nil until assessed. A caller may set it up front to bypass the
	// engine's assessor.
	Risk             *RiskAssessment
	RequiresApproval bool

	WorkingDirectory string
	Reason           string
}

// WithRisk returns a copy of c carrying the given assessment.
func (c CommandMessage) WithRisk(risk RiskAssessment, requiresApproval bool) CommandMessage {
	r := risk
	c.Risk = &r
	c.RequiresApproval = requiresApproval
	return c
}

// CommandResult is the outcome of executing an action.
type CommandResult struct {
	ActionID  string
	SessionID string
	Success   bool
	Message   string
	Metadata  map[string]string

	ExitCode      *int
	Stdout        string
	Stderr        string
	ExecutionTime time.Duration
}

// TerminalOutput is a chunk of output produced while an action runs.
type TerminalOutput struct {
	SessionID string
	Output    string
	Timestamp time.Time
}
