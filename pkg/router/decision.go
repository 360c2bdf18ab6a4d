package router

// Route identifies which pipeline stage produced a decision.
type Route string

const (
	// RouteRule means a static rule matched.
	RouteRule Route = "rule"
	// RouteCanned means a canned response matched, by rule, pattern, or
	// similarity.
	RouteCanned Route = "canned"
	// RouteClassifier means the classifier decided with enough confidence.
	RouteClassifier Route = "classifier"
	// RouteAgent means a human must handle the message.
	RouteAgent Route = "agent"
)

// Stage confidence levels. A rule outranks a canned pattern, which outranks
// anything the classifier can produce; the pipeline order, not the number,
// is what decides.
const (
	RuleConfidence   = 1.0
	CannedConfidence = 0.9
	// ClassifierFloor is the confidence below which a classifier result is
	// overridden to the agent route.
	ClassifierFloor = 0.7
)

// Decision is the routing outcome for one message, produced once per message
// key and cached.
type Decision struct {
	Route            Route      `json:"route"`
	Reason           string     `json:"reason"`
	Confidence       float64    `json:"confidence"`
	Category         string     `json:"category,omitempty"`
	RuleID           string     `json:"rule_id,omitempty"`
	CannedResponseID string     `json:"canned_response_id,omitempty"`
	Action           RuleAction `json:"action,omitempty"`
	Response         string     `json:"response,omitempty"`
}

// NeedsConsent reports whether acting on the decision produces a
// customer-visible reply and therefore requires human approval.
func (d *Decision) NeedsConsent() bool {
	if d.Action == ActionNoRespond || d.Action == ActionEscalate {
		return false
	}
	switch d.Route {
	case RouteRule:
		return d.Action == ActionAutoRespond
	case RouteCanned, RouteClassifier:
		return true
	default:
		return false
	}
}
