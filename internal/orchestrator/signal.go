package orchestrator

import (
	"regexp"
	"strings"

	"github.com/wolfman30/clinic-ai-engine/internal/funnel"
)

// funnelSignalRe matches the convention line the model may append to its final
// reply, e.g. "funnel_signal: NOT_INTERESTED". The line is always stripped
// before the reply reaches the patient.
var funnelSignalRe = regexp.MustCompile(`(?mi)^[ \t]*funnel_signal:[ \t]*([A-Za-z_]+)[ \t]*$`)

// modelSignals are the events the model may claim through the text
// convention. PAYMENT_SUCCESS is deliberately absent: conversion only comes
// from a confirmed downstream outcome, never from model text.
var modelSignals = map[string]funnel.Event{
	string(funnel.EventQualified):            funnel.EventQualified,
	string(funnel.EventNotInterested):        funnel.EventNotInterested,
	string(funnel.EventRejectedByAI):         funnel.EventRejectedByAI,
	string(funnel.EventObjectionCleared):     funnel.EventObjectionCleared,
	string(funnel.EventAdditionalInfoNeeded): funnel.EventAdditionalInfoNeeded,
	string(funnel.EventRefused):              funnel.EventRefused,
	string(funnel.EventIntentConfirmed):      funnel.EventIntentConfirmed,
	string(funnel.EventWavering):             funnel.EventWavering,
	string(funnel.EventPaymentFailed):        funnel.EventPaymentFailed,
}

// extractFunnelSignal pulls the signal line out of the reply. It returns the
// derived event (empty when no line is present or the name is unknown) and
// the reply with every signal line removed.
func extractFunnelSignal(reply string) (funnel.Event, string) {
	match := funnelSignalRe.FindStringSubmatch(reply)
	if match == nil {
		return "", reply
	}
	cleaned := strings.TrimSpace(funnelSignalRe.ReplaceAllString(reply, ""))
	event, ok := modelSignals[strings.ToUpper(match[1])]
	if !ok {
		return "", cleaned
	}
	return event, cleaned
}
