// Package risk provides the built-in risk assessment policies: a rule-based
// classifier, a fail-safe policy that always asks for approval, an
// auto-approve policy for tests, and a composite that takes the maximum of
// several policies. A Registry selects a policy by name from configuration.
package risk
