package risk

import (
	"context"

	"github.com/petrijr/shellguard/pkg/api"
)

// CompositeAssessor takes the highest score among its children.
// With no children every action scores DefaultRiskScore.
type CompositeAssessor struct {
	children []api.RiskAssessor
}

var _ api.RiskAssessor = (*CompositeAssessor)(nil)

// NewCompositeAssessor ignores nil children.
func NewCompositeAssessor(children ...api.RiskAssessor) *CompositeAssessor {
	c := &CompositeAssessor{}
	for _, ch := range children {
		if ch != nil {
			c.children = append(c.children, ch)
		}
	}
	return c
}

func (c *CompositeAssessor) AssessRisk(ctx context.Context, cmd api.CommandMessage) api.RiskAssessment {
	if len(c.children) == 0 {
		return api.NewRiskAssessment(api.DefaultRiskScore)
	}
	best := api.MinScore
	for _, ch := range c.children {
		if r := ch.AssessRisk(ctx, cmd); r.Score > best {
			best = r.Score
		}
	}
	return api.NewRiskAssessment(best)
}

func (c *CompositeAssessor) RequiresApproval(r api.RiskAssessment) bool {
	return r.Level != api.RiskLow
}
