package api

import (
	"context"
	"fmt"
)

// RiskLevel is the coarse bucket a risk score falls into.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Score bounds for each level. A level covers [min, next level's min).
const (
	MinScore          = 0
	MaxScore          = 100
	MediumRiskScore   = 40
	HighRiskScore     = 70
	CriticalRiskScore = 90

	// DefaultRiskScore is used whenever a policy cannot classify an action.
	DefaultRiskScore = 50
)

// LevelForScore maps a score to its level. Scores outside [0, 100] are
// treated as ambiguous and map to MEDIUM.
func LevelForScore(score int) RiskLevel {
	switch {
	case score < MinScore || score > MaxScore:
		return RiskMedium
	case score >= CriticalRiskScore:
		return RiskCritical
	case score >= HighRiskScore:
		return RiskHigh
	case score >= MediumRiskScore:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskAssessment is a score in [0, 100] and the level derived from it.
// Build it with NewRiskAssessment so the two can never disagree.
type RiskAssessment struct {
	Score int
	Level RiskLevel
}

// NewRiskAssessment clamps score into [0, 100] and derives the level.
func NewRiskAssessment(score int) RiskAssessment {
	if score < MinScore {
		score = MinScore
	}
	if score > MaxScore {
		score = MaxScore
	}
	return RiskAssessment{Score: score, Level: LevelForScore(score)}
}

// Normalized clamps the score and re-derives the level from it, discarding
// whatever Level was set by hand.
func (r RiskAssessment) Normalized() RiskAssessment {
	return NewRiskAssessment(r.Score)
}

func (r RiskAssessment) String() string {
	return fmt.Sprintf("%s(%d)", r.Level, r.Score)
}

// RiskAssessor assigns a risk to a command and decides whether that risk
// needs a human in the loop. Implementations must be safe for concurrent use.
type RiskAssessor interface {
	AssessRisk(ctx context.Context, cmd CommandMessage) RiskAssessment
	RequiresApproval(risk RiskAssessment) bool
}
