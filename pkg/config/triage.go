package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/triagegate/pkg/canned"
	"github.com/zen-systems/triagegate/pkg/router"
)

// TriageConfig holds the routing rules, canned responses, and lifecycle
// timings for one deployment.
type TriageConfig struct {
	AppID      string           `yaml:"app_id,omitempty"`
	Rules      []router.Rule    `yaml:"rules,omitempty"`
	Canned     []canned.Entry   `yaml:"canned,omitempty"`
	Similarity SimilarityConfig `yaml:"similarity,omitempty"`
	Classifier ClassifierConfig `yaml:"classifier,omitempty"`
	Timings    TimingsConfig    `yaml:"timings,omitempty"`
	Reminders  RemindersConfig  `yaml:"reminders,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty"`
	Notify     NotifyConfig     `yaml:"notify,omitempty"`
}

// SimilarityConfig controls the vector-index canned matcher.
type SimilarityConfig struct {
	Enabled        bool    `yaml:"enabled,omitempty"`
	Threshold      float64 `yaml:"threshold,omitempty"`
	IndexPath      string  `yaml:"index_path,omitempty"`
	Collection     string  `yaml:"collection,omitempty"`
	EmbeddingModel string  `yaml:"embedding_model,omitempty"`
}

// ClassifierConfig selects which model classifies messages and the
// confidence floor below which results route to a human.
type ClassifierConfig struct {
	Adapter         string   `yaml:"adapter,omitempty"`
	Model           string   `yaml:"model,omitempty"`
	ConfidenceFloor float64  `yaml:"confidence_floor,omitempty"`
	Categories      []string `yaml:"categories,omitempty"`
}

// TimingsConfig holds the lifecycle delays. Durations are plain integers
// in the unit the field name carries.
type TimingsConfig struct {
	DecisionTTLMs        int `yaml:"decision_ttl_ms,omitempty"`
	ApprovalTimeoutHours int `yaml:"approval_timeout_hours,omitempty"`
	ReminderDelayHours   int `yaml:"reminder_delay_hours,omitempty"`
	DraftTimeoutHours    int `yaml:"draft_timeout_hours,omitempty"`
}

// RemindersConfig bounds escalation reminder fan-out.
type RemindersConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent,omitempty"`
}

// StoreConfig selects where caches, holds, and journals live.
type StoreConfig struct {
	// RedisAddr, when set, backs the decision cache and hold store with a
	// shared Redis instance instead of process memory.
	RedisAddr string `yaml:"redis_addr,omitempty"`
	DataDir   string `yaml:"data_dir,omitempty"`
}

// NotifyConfig points at the human notification channel.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
	Token      string `yaml:"token,omitempty"`
}

// DecisionTTL returns the cache TTL as a duration.
func (t TimingsConfig) DecisionTTL() time.Duration {
	return time.Duration(t.DecisionTTLMs) * time.Millisecond
}

// ApprovalTimeout returns the approval wait as a duration.
func (t TimingsConfig) ApprovalTimeout() time.Duration {
	return time.Duration(t.ApprovalTimeoutHours) * time.Hour
}

// ReminderDelay returns the escalation reminder delay as a duration.
func (t TimingsConfig) ReminderDelay() time.Duration {
	return time.Duration(t.ReminderDelayHours) * time.Hour
}

// DraftTimeout returns the draft-deletion check delay as a duration.
func (t TimingsConfig) DraftTimeout() time.Duration {
	return time.Duration(t.DraftTimeoutHours) * time.Hour
}

// LoadTriageConfig reads triage configuration from a YAML file.
func LoadTriageConfig(path string) (*TriageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg TriageConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyTriageDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultTriageConfig returns the default triage configuration.
func DefaultTriageConfig() *TriageConfig {
	cfg := &TriageConfig{}
	applyTriageDefaults(cfg)
	return cfg
}

func applyTriageDefaults(cfg *TriageConfig) {
	if cfg == nil {
		return
	}
	if cfg.Similarity.Threshold == 0 {
		cfg.Similarity.Threshold = canned.DefaultSimilarityThreshold
	}
	if cfg.Classifier.Adapter == "" {
		cfg.Classifier.Adapter = "anthropic"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Classifier.ConfidenceFloor == 0 {
		cfg.Classifier.ConfidenceFloor = router.ClassifierFloor
	}
	if cfg.Timings.DecisionTTLMs == 0 {
		cfg.Timings.DecisionTTLMs = int(router.DefaultDecisionTTL / time.Millisecond)
	}
	if cfg.Timings.ApprovalTimeoutHours == 0 {
		cfg.Timings.ApprovalTimeoutHours = 24
	}
	if cfg.Timings.ReminderDelayHours == 0 {
		cfg.Timings.ReminderDelayHours = 4
	}
	if cfg.Timings.DraftTimeoutHours == 0 {
		cfg.Timings.DraftTimeoutHours = 2
	}
	if cfg.Reminders.MaxConcurrent == 0 {
		cfg.Reminders.MaxConcurrent = 4
	}
}

// Validate rejects configurations the pipeline cannot run with. Rule
// patterns are not compiled here; an invalid pattern fails closed at match
// time rather than blocking startup.
func (cfg *TriageConfig) Validate() error {
	seen := make(map[string]bool, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
		switch r.Type {
		case router.RuleTypeRegex, router.RuleTypeKeyword, router.RuleTypeSenderDomain, router.RuleTypeSenderPattern:
		default:
			return fmt.Errorf("rule %q: unknown type %q", r.ID, r.Type)
		}
		switch r.Action {
		case router.ActionAutoRespond, router.ActionNoRespond, router.ActionEscalate, router.ActionRouteToCanned:
		default:
			return fmt.Errorf("rule %q: unknown action %q", r.ID, r.Action)
		}
		if r.Action == router.ActionRouteToCanned && r.CannedResponseID == "" {
			return fmt.Errorf("rule %q: route_to_canned requires canned_response_id", r.ID)
		}
	}

	for i, e := range cfg.Canned {
		if e.ID == "" {
			return fmt.Errorf("canned entry %d: id is required", i)
		}
		if e.Pattern == "" {
			return fmt.Errorf("canned entry %q: pattern is required", e.ID)
		}
	}

	if cfg.Similarity.Threshold <= 0 || cfg.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity threshold %v out of range (0, 1]", cfg.Similarity.Threshold)
	}
	if cfg.Classifier.ConfidenceFloor < 0 || cfg.Classifier.ConfidenceFloor > 1 {
		return fmt.Errorf("classifier confidence floor %v out of range [0, 1]", cfg.Classifier.ConfidenceFloor)
	}
	return nil
}
