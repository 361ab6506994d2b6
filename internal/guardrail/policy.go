package guardrail

import (
	"regexp"
	"strings"
)

// Action says what to do with a reply when a rule fires.
type Action string

const (
	// ActionBlock discards the reply entirely and substitutes the safe fallback.
	ActionBlock Action = "block"
	// ActionRedirect keeps the conversation alive but swaps the reply for the
	// rule's redirect text.
	ActionRedirect Action = "redirect"
)

// Rule is one outbound-reply check. Rules are evaluated in order; the first
// blocking rule wins, and otherwise the first redirect rule wins.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Action   Action
	Redirect string
}

// Result describes what the policy did to a reply.
type Result struct {
	// Blocked is true when a blocking rule fired.
	Blocked bool
	// Triggered lists the names of every rule that matched.
	Triggered []string
	// Final is the text that may be sent to the user.
	Final string
}

// Policy is an ordered set of rules applied as the last step before a reply
// leaves the engine. Everything sent to a patient passes through here,
// including tool-derived and fallback replies.
type Policy struct {
	rules    []Rule
	fallback string
}

// NewPolicy builds a policy from ordered rules. The fallback is the text
// substituted when a blocking rule fires.
func NewPolicy(rules []Rule, fallback string) *Policy {
	if strings.TrimSpace(fallback) == "" {
		fallback = defaultFallback
	}
	return &Policy{rules: rules, fallback: fallback}
}

const defaultFallback = "I can't help with that over chat, but the clinic team can. " +
	"Would you like me to have someone from the clinic reach out?"

// DefaultPolicy returns the standard clinic reply policy: no medical
// diagnosis, no price commitments the clinic did not approve, and no
// credential or internal-endpoint leaks.
func DefaultPolicy() *Policy {
	return NewPolicy([]Rule{
		{
			Name:    "credential_leak",
			Pattern: regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|bearer\s+token)\s*[:=]\s*\S+`),
			Action:  ActionBlock,
		},
		{
			Name:    "aws_key_leak",
			Pattern: regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
			Action:  ActionBlock,
		},
		{
			Name:    "database_url_leak",
			Pattern: regexp.MustCompile(`(?i)(postgres|mysql|redis|mongodb)://\S+`),
			Action:  ActionBlock,
		},
		{
			Name:    "internal_endpoint_leak",
			Pattern: regexp.MustCompile(`(?i)(api-dev|staging|internal)\.[a-z0-9-]+\.(com|io|net)|/internal/|/debug/`),
			Action:  ActionBlock,
		},
		{
			Name:    "medical_diagnosis",
			Pattern: regexp.MustCompile(`(?i)\byou (have|are suffering from|likely have|probably have)\b.{0,40}\b(infection|allergy|condition|disease|reaction|disorder)\b`),
			Action:  ActionRedirect,
			Redirect: "I can't give medical advice over chat, but our providers can answer that " +
				"during a consultation. Want me to find you a time?",
		},
		{
			Name:    "dosage_advice",
			Pattern: regexp.MustCompile(`(?i)\b(you should|I recommend) (take|taking|use|using|apply|applying)\b.{0,40}\b(units|mg|ml|dose|dosage)\b`),
			Action:  ActionRedirect,
			Redirect: "Dosing is something only your provider can decide after seeing you. " +
				"I can book you a consultation if you'd like.",
		},
		{
			Name:    "price_commitment",
			Pattern: regexp.MustCompile(`(?i)\b(I|we) (guarantee|promise|can offer you|will give you)\b.{0,30}(\$|\beuro\b|\beur\b|\btl\b|%\s*off|discount)`),
			Action:  ActionRedirect,
			Redirect: "Exact pricing depends on your treatment plan, so the clinic will confirm " +
				"it at your visit. Can I help you schedule one?",
		},
	}, "")
}

// Apply runs the reply through every rule and returns the text that is safe
// to send.
func (p *Policy) Apply(reply string) Result {
	if strings.TrimSpace(reply) == "" {
		return Result{Blocked: true, Final: p.fallback}
	}

	var (
		triggered []string
		blocked   bool
		redirect  string
	)
	for _, rule := range p.rules {
		if !rule.Pattern.MatchString(reply) {
			continue
		}
		triggered = append(triggered, rule.Name)
		switch rule.Action {
		case ActionBlock:
			blocked = true
		case ActionRedirect:
			if redirect == "" {
				redirect = rule.Redirect
			}
		}
	}

	switch {
	case blocked:
		return Result{Blocked: true, Triggered: triggered, Final: p.fallback}
	case redirect != "":
		return Result{Triggered: triggered, Final: redirect}
	default:
		return Result{Triggered: triggered, Final: reply}
	}
}
