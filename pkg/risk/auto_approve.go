package risk

import (
	"context"
	"log/slog"
	"sync"

	"github.com/petrijr/shellguard/pkg/api"
)

// AutoApproveAssessor approves everything. It still runs the rule-based
// policy so the would-be score shows up in debug logs.
//
// Never use it outside tests and local demos.
type AutoApproveAssessor struct {
	delegate *RuleBasedAssessor
	logger   *slog.Logger
	warnOnce sync.Once
}

var _ api.RiskAssessor = (*AutoApproveAssessor)(nil)

// NewAutoApproveAssessor returns an assessor that never requires approval.
// A nil logger uses slog.Default().
func NewAutoApproveAssessor(logger *slog.Logger) *AutoApproveAssessor {
	if logger == nil {
		logger = slog.Default()
	}
	d, _ := NewRuleBasedAssessorWithRules(Rules{}, logger)
	return &AutoApproveAssessor{delegate: d, logger: logger}
}

func (a *AutoApproveAssessor) AssessRisk(ctx context.Context, cmd api.CommandMessage) api.RiskAssessment {
	a.warnOnce.Do(func() {
		a.logger.WarnContext(ctx, "auto_approve_assessor_active",
			slog.String("detail", "all actions are approved without review; do not run this in production"),
		)
	})
	assessed := a.delegate.AssessRisk(ctx, cmd)
	a.logger.DebugContext(ctx, "auto_approve_override",
		slog.String("action_id", cmd.ID),
		slog.Int("assessed_score", assessed.Score),
	)
	return api.NewRiskAssessment(LowScore)
}

func (a *AutoApproveAssessor) RequiresApproval(api.RiskAssessment) bool { return false }
