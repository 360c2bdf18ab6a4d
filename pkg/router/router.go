package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zen-systems/triagegate/pkg/canned"
	"github.com/zen-systems/triagegate/pkg/classify"
	"github.com/zen-systems/triagegate/pkg/message"
)

// Router is the routing decision pipeline: cache, rules, canned patterns,
// similarity, classifier, in that fixed order with early exit. An earlier
// stage always outranks a later one, even when the later stage would have
// reported higher confidence.
type Router struct {
	cache      *DecisionCache
	rules      *RuleSet
	static     *canned.StaticMatcher
	similarity *canned.SimilarityMatcher
	classifier classify.Classifier
	floor      float64
	logger     *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithStaticMatcher adds the static canned-pattern stage.
func WithStaticMatcher(m *canned.StaticMatcher) RouterOption {
	return func(r *Router) { r.static = m }
}

// WithSimilarityMatcher adds the similarity stage.
func WithSimilarityMatcher(m *canned.SimilarityMatcher) RouterOption {
	return func(r *Router) { r.similarity = m }
}

// WithConfidenceFloor overrides the agent-override threshold.
func WithConfidenceFloor(floor float64) RouterOption {
	return func(r *Router) {
		if floor > 0 {
			r.floor = floor
		}
	}
}

// WithLogger sets the router's logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a routing pipeline.
func NewRouter(cache *DecisionCache, rules *RuleSet, classifier classify.Classifier, opts ...RouterOption) *Router {
	r := &Router{
		cache:      cache,
		rules:      rules,
		classifier: classifier,
		floor:      ClassifierFloor,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route computes the routing decision for a message.
func (r *Router) Route(ctx context.Context, msg *message.Message) (*Decision, error) {
	decision, _, err := r.RouteDetailed(ctx, msg)
	return decision, err
}

// RouteDetailed computes the routing decision and reports whether it was a
// cache hit. A hit short-circuits every other stage, even ones that would
// have matched.
func (r *Router) RouteDetailed(ctx context.Context, msg *message.Message) (*Decision, bool, error) {
	if msg == nil {
		return nil, false, fmt.Errorf("message is required")
	}
	key := msg.Key()

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if cached != nil {
			r.logger.Debug("decision cache hit", zap.String("key", key))
			return cached, true, nil
		}
	}

	decision, err := r.decide(ctx, msg)
	if err != nil {
		return nil, false, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, decision); err != nil {
			// The decision stands even if the cache write fails.
			r.logger.Warn("decision cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return decision, false, nil
}

func (r *Router) decide(ctx context.Context, msg *message.Message) (*Decision, error) {
	// Stage: rules.
	if r.rules != nil {
		if match, ok := r.rules.Match(msg.Text, msg.Sender); ok {
			decision := &Decision{
				Route:      RouteRule,
				Reason:     fmt.Sprintf("matched rule %s", match.RuleID),
				Confidence: RuleConfidence,
				RuleID:     match.RuleID,
				Action:     match.Action,
				Response:   match.Response,
			}
			if match.Action == ActionRouteToCanned {
				// Rule-originated canned routes carry both ids, which
				// distinguishes them from similarity-originated ones.
				decision.Route = RouteCanned
				decision.CannedResponseID = match.CannedResponseID
			}
			return decision, nil
		}
	}

	// Stage: static canned patterns, only when entries were supplied.
	if r.static != nil && r.static.Len() > 0 {
		if match, ok := r.static.Match(msg.Text); ok {
			return &Decision{
				Route:            RouteCanned,
				Reason:           fmt.Sprintf("matched canned pattern %s", match.TemplateID),
				Confidence:       CannedConfidence,
				CannedResponseID: match.TemplateID,
				Action:           ActionAutoRespond,
				Response:         match.Response,
			}, nil
		}
	}

	// Stage: similarity against the vector index. Lookup failures degrade
	// to no-match so an unavailable index never blocks routing.
	if r.similarity != nil {
		match, err := r.similarity.Match(ctx, msg.Text)
		if err != nil {
			r.logger.Warn("similarity stage failed", zap.String("key", msg.Key()), zap.Error(err))
		} else if match.Matched {
			return &Decision{
				Route:            RouteCanned,
				Reason:           fmt.Sprintf("similar to canned response %s", match.TemplateID),
				Confidence:       match.Similarity,
				CannedResponseID: match.TemplateID,
				Action:           ActionAutoRespond,
				Response:         match.Response,
			}, nil
		}
	}

	// Stage: classifier. Its errors propagate; retry policy belongs to the
	// caller.
	if r.classifier == nil {
		return &Decision{
			Route:  RouteAgent,
			Reason: "no classifier configured",
		}, nil
	}

	result, err := r.classifier.Classify(ctx, classify.Input{
		Text:           msg.Text,
		RecentMessages: msg.RecentMessages,
	})
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Route:      RouteClassifier,
		Reason:     result.Reasoning,
		Confidence: result.Confidence,
		Category:   result.Category,
	}
	if result.Confidence < r.floor {
		// Low confidence always hands the message to a human, whatever
		// the category says.
		decision.Route = RouteAgent
	}
	return decision, nil
}
