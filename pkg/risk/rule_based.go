package risk

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/petrijr/shellguard/pkg/api"
)

// Scores assigned by the rule tiers.
const (
	CriticalScore = 90
	HighScore     = 70
	MediumScore   = 40
	LowScore      = 10
)

// Default rule tiers. Patterns are matched against the lower-cased, trimmed
// command text; the first matching tier wins.
var (
	DefaultCriticalPatterns = []string{
		`rm\s+-rf\s+/`,
		`rm\s+-rf\s+\*`,
		`format\s+`,
		`shutdown\s+`,
		`reboot\s+`,
	}
	DefaultHighPatterns = []string{
		`rm\s+-[rf]+`,
		`sudo\s+`,
		`chmod\s+777`,
		`passwd\s+`,
	}
	DefaultMediumPatterns = []string{
		`git\s+push\s+.*--force`,
		`npm\s+install\s+`,
		`docker\s+run\s+`,
		`rm\s+[^-]`,
	}
	DefaultLowCommands = []string{
		"ls", "dir", "pwd", "cd", "cat", "type", "echo", "grep", "find",
		"ps", "top", "df", "du", "free", "whoami",
		"git status", "git log", "git diff", "git branch",
	}
)

// Rules configures a RuleBasedAssessor. Empty tiers fall back to defaults.
type Rules struct {
	Critical    []string
	High        []string
	Medium      []string
	LowCommands []string
}

type tier struct {
	score    int
	patterns []*regexp.Regexp
}

// RuleBasedAssessor scores commands with ordered regex tiers and a
// low-risk allow-list of base commands.
type RuleBasedAssessor struct {
	tiers  []tier
	low    map[string]struct{}
	logger *slog.Logger
}

var _ api.RiskAssessor = (*RuleBasedAssessor)(nil)

// NewRuleBasedAssessor returns an assessor using the default rules.
func NewRuleBasedAssessor() *RuleBasedAssessor {
	a, err := NewRuleBasedAssessorWithRules(Rules{}, nil)
	if err != nil {
		// Default patterns are constant and known to compile.
		panic(err)
	}
	return a
}

// NewRuleBasedAssessorWithRules compiles the given rules. A nil logger uses
// slog.Default().
func NewRuleBasedAssessorWithRules(r Rules, logger *slog.Logger) (*RuleBasedAssessor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &RuleBasedAssessor{
		low:    make(map[string]struct{}),
		logger: logger,
	}

	levels := []struct {
		score    int
		patterns []string
		defaults []string
	}{
		{CriticalScore, r.Critical, DefaultCriticalPatterns},
		{HighScore, r.High, DefaultHighPatterns},
		{MediumScore, r.Medium, DefaultMediumPatterns},
	}
	for _, lv := range levels {
		src := lv.patterns
		if len(src) == 0 {
			src = lv.defaults
		}
		t := tier{score: lv.score}
		for _, p := range src {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("risk: compile pattern %q: %w", p, err)
			}
			t.patterns = append(t.patterns, re)
		}
		a.tiers = append(a.tiers, t)
	}

	low := r.LowCommands
	if len(low) == 0 {
		low = DefaultLowCommands
	}
	for _, c := range low {
		a.low[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return a, nil
}

func (a *RuleBasedAssessor) AssessRisk(ctx context.Context, cmd api.CommandMessage) api.RiskAssessment {
	var score int
	switch strings.ToUpper(cmd.Command) {
	case api.CommandText, api.CommandLine:
		score = a.scoreText(cmd.Parameter)
	case api.CommandKey:
		score = api.DefaultRiskScore
	case api.CommandCombo:
		score = scoreCombo(cmd.Parameter)
	default:
		score = api.DefaultRiskScore
	}

	ra := api.NewRiskAssessment(score)
	a.logger.DebugContext(ctx, "risk_assessed",
		slog.String("action_id", cmd.ID),
		slog.String("command", cmd.Command),
		slog.Int("risk_score", ra.Score),
		slog.String("risk_level", string(ra.Level)),
	)
	return ra
}

// RequiresApproval is true for everything except LOW.
func (a *RuleBasedAssessor) RequiresApproval(r api.RiskAssessment) bool {
	return r.Level != api.RiskLow
}

func (a *RuleBasedAssessor) scoreText(text string) int {
	cmd := strings.ToLower(strings.TrimSpace(text))

	for _, t := range a.tiers {
		for _, re := range t.patterns {
			if re.MatchString(cmd) {
				return t.score
			}
		}
	}

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return api.DefaultRiskScore
	}
	if _, ok := a.low[fields[0]]; ok {
		return LowScore
	}
	if len(fields) > 1 {
		if _, ok := a.low[fields[0]+" "+fields[1]]; ok {
			return LowScore
		}
	}
	return api.DefaultRiskScore
}

func scoreCombo(combo string) int {
	switch strings.ToUpper(strings.TrimSpace(combo)) {
	case "CTRL+ALT+DEL", "CTRL+ALT+DELETE":
		return CriticalScore
	case "CTRL+C":
		return HighScore
	case "CTRL+Z":
		return MediumScore
	default:
		return api.DefaultRiskScore
	}
}
