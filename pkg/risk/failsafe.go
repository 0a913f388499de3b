package risk

import (
	"context"

	"github.com/petrijr/shellguard/pkg/api"
)

// FailSafeAssessor treats every action as high risk and always asks for
// approval. Use it when no policy is configured.
type FailSafeAssessor struct{}

var _ api.RiskAssessor = FailSafeAssessor{}

func (FailSafeAssessor) AssessRisk(context.Context, api.CommandMessage) api.RiskAssessment {
	return api.NewRiskAssessment(CriticalScore)
}

func (FailSafeAssessor) RequiresApproval(api.RiskAssessment) bool { return true }
