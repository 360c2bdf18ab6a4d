package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/triagegate/pkg/adapter"
	"github.com/zen-systems/triagegate/pkg/approval"
	"github.com/zen-systems/triagegate/pkg/audit"
	"github.com/zen-systems/triagegate/pkg/canned"
	"github.com/zen-systems/triagegate/pkg/classify"
	"github.com/zen-systems/triagegate/pkg/config"
	"github.com/zen-systems/triagegate/pkg/escalation"
	"github.com/zen-systems/triagegate/pkg/hold"
	"github.com/zen-systems/triagegate/pkg/journal"
	"github.com/zen-systems/triagegate/pkg/kvstore"
	"github.com/zen-systems/triagegate/pkg/message"
	"github.com/zen-systems/triagegate/pkg/notify"
	"github.com/zen-systems/triagegate/pkg/router"
	"github.com/zen-systems/triagegate/pkg/triage"
	"github.com/zen-systems/triagegate/pkg/vectorindex"
)

var (
	configFile string
	aliases    *config.ModelAliases
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "triagegate",
		Short: "Support message triage with rule, canned, and classifier routing",
		Long: `Triagegate routes inbound support messages through a fixed pipeline:
	cached decision, static rules, canned-response matching, and an LLM
	classifier fallback. Decisions that produce a customer-visible reply
	open an approval request and wait for a human.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to triage config file")

	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(approvalsCmd())
	rootCmd.AddCommand(holdCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles the wired components one command invocation works with.
type env struct {
	cfg       *config.Config
	logger    *zap.Logger
	cache     *router.DecisionCache
	router    *router.Router
	holds     *hold.Store
	approvals *approval.Machine
	reminder  *escalation.Reminder
	scheduler *triage.Scheduler
	service   *triage.Service
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithTriageFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, _ = config.LoadAliasesWithFallback()

	return cfg, nil
}

func buildEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	tc := cfg.Triage

	var kv kvstore.Store
	if tc.Store.RedisAddr != "" {
		kv = kvstore.NewRedis(tc.Store.RedisAddr)
	} else {
		kv = kvstore.NewMemory()
	}

	j, err := journal.NewStore(tc.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	auditLog, err := audit.NewLog(filepath.Join(cfg.ConfigDir, "audit"))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(tc)
	if err != nil {
		return nil, err
	}

	cache := router.NewDecisionCache(kv, tc.Timings.DecisionTTL())
	rules := router.NewRuleSet(router.DefaultSystemRules(), tc.Rules)

	routerOpts := []router.RouterOption{
		router.WithConfidenceFloor(tc.Classifier.ConfidenceFloor),
		router.WithLogger(logger),
	}
	if len(tc.Canned) > 0 {
		routerOpts = append(routerOpts, router.WithStaticMatcher(canned.NewStaticMatcher(tc.Canned)))
	}
	if tc.Similarity.Enabled {
		matcher, err := buildSimilarityMatcher(cfg)
		if err != nil {
			return nil, err
		}
		routerOpts = append(routerOpts, router.WithSimilarityMatcher(matcher))
	}
	r := router.NewRouter(cache, rules, classifier, routerOpts...)

	holds := hold.NewStore(kv)
	approvals := approval.NewMachine(approval.NewJournalStore(j), notifier,
		approval.WithTimeout(tc.Timings.ApprovalTimeout()),
		approval.WithLogger(logger))
	reminder := escalation.NewReminder(holds, approvals, notifier,
		escalation.WithDelay(tc.Timings.ReminderDelay()),
		escalation.WithMaxConcurrent(tc.Reminders.MaxConcurrent),
		escalation.WithAudit(auditLog),
		escalation.WithLogger(logger))
	scheduler := triage.NewScheduler(j, triage.WithSchedulerLogger(logger))
	service := triage.NewService(r, cache, holds, approvals, reminder, scheduler,
		triage.WithDraftTimeout(tc.Timings.DraftTimeout()),
		triage.WithAudit(auditLog),
		triage.WithServiceLogger(logger))

	return &env{
		cfg:       cfg,
		logger:    logger,
		cache:     cache,
		router:    r,
		holds:     holds,
		approvals: approvals,
		reminder:  reminder,
		scheduler: scheduler,
		service:   service,
	}, nil
}

func buildClassifier(cfg *config.Config) (classify.Classifier, error) {
	tc := cfg.Triage

	var a adapter.Adapter
	var err error
	switch tc.Classifier.Adapter {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			a = adapter.NewMockAdapter()
		} else {
			a, err = adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			a = adapter.NewMockAdapter()
		} else {
			a, err = adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		}
	case "google":
		if cfg.GoogleAPIKey == "" {
			a = adapter.NewMockAdapter()
		} else {
			a, err = adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		}
	case "deepseek":
		if cfg.DeepSeekAPIKey == "" {
			a = adapter.NewMockAdapter()
		} else {
			a, err = adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		}
	case "mock":
		a = adapter.NewMockAdapter()
	default:
		return nil, fmt.Errorf("unknown classifier adapter %q", tc.Classifier.Adapter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter: %w", tc.Classifier.Adapter, err)
	}

	model := aliases.Resolve(tc.Classifier.Model)
	return classify.NewLLMClassifier(a, model, tc.Classifier.Categories)
}

func buildNotifier(tc *config.TriageConfig) (notify.Notifier, error) {
	if tc.Notify.WebhookURL != "" {
		return notify.NewWebhook(tc.Notify.WebhookURL, tc.Notify.Token)
	}
	return notify.NewMemory(), nil
}

func buildSimilarityMatcher(cfg *config.Config) (*canned.SimilarityMatcher, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("similarity matching requires an OpenAI API key for embeddings")
	}
	embedder, err := vectorindex.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.Triage.Similarity.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{
		Path:       cfg.Triage.Similarity.IndexPath,
		Collection: cfg.Triage.Similarity.Collection,
	}, embedder)
	if err != nil {
		return nil, err
	}
	return canned.NewSimilarityMatcher(index, cfg.Triage.AppID, cfg.Triage.Similarity.Threshold)
}

func routeCmd() *cobra.Command {
	var conversationID string
	var messageID string
	var sender string
	var appID string

	cmd := &cobra.Command{
		Use:   "route [text]",
		Short: "Route one message through the triage pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			msg := message.New(conversationID, messageID, sender, args[0])
			if appID != "" {
				msg = msg.WithApp(appID)
			}

			res, err := e.service.HandleInbound(context.Background(), msg)
			if err != nil {
				return err
			}

			out := struct {
				Decision *router.Decision `json:"decision"`
				CacheHit bool             `json:"cache_hit"`
				ActionID string           `json:"action_id,omitempty"`
			}{res.Decision, res.CacheHit, res.ActionID}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (required)")
	cmd.Flags().StringVar(&messageID, "message", "", "message id (required)")
	cmd.Flags().StringVar(&sender, "sender", "", "sender address")
	cmd.Flags().StringVar(&appID, "app", "", "application id")
	cmd.MarkFlagRequired("conversation")
	cmd.MarkFlagRequired("message")

	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event loop, reading JSON events from stdin",
		Long: `Reads one JSON event per line from stdin and dispatches it. The
	durable timer loop runs alongside, firing approval expiries, escalation
	reminders, and draft checks, including ones left over from a previous
	process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			e.scheduler.Start(ctx)
			defer e.scheduler.Stop()

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				var ev triage.Event
				if err := json.Unmarshal([]byte(line), &ev); err != nil {
					e.logger.Warn("unparseable event dropped", zap.Error(err))
					continue
				}
				if err := e.service.HandleEvent(ctx, ev); err != nil {
					e.logger.Error("event handling failed",
						zap.String("type", ev.Type),
						zap.Error(err))
				}
				if ctx.Err() != nil {
					break
				}
			}
			return scanner.Err()
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect routing rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show system and configured rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tID\tPRIORITY\tTYPE\tPATTERN\tACTION")
			for _, r := range router.DefaultSystemRules() {
				fmt.Fprintf(w, "system\t%s\t%d\t%s\t%s\t%s\n", r.ID, r.Priority, r.Type, r.Pattern, r.Action)
			}
			for _, r := range cfg.Triage.Rules {
				fmt.Fprintf(w, "config\t%s\t%d\t%s\t%s\t%s\n", r.ID, r.Priority, r.Type, r.Pattern, r.Action)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the triage configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Triage.Validate(); err != nil {
				return err
			}
			if err := aliases.ValidateClassifier(cfg.Triage); err != nil {
				return err
			}
			fmt.Println("Triage configuration is valid.")
			return nil
		},
	})

	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List classifier providers and their models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")

			for _, provider := range aliases.ListProviders() {
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				models := strings.Join(aliases.Providers[provider], ", ")
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, models, status)
			}

			return w.Flush()
		},
	}
}

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and decide pending approvals",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List approvals waiting on a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			pending, err := e.approvals.ListPending(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION ID\tCONVERSATION\tTYPE\tCREATED\tEXPIRES")
			for _, req := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					req.ActionID, req.ConversationID, req.Action.Type,
					req.CreatedAt.Format(time.RFC3339), req.ExpiresAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	var approveFlag bool
	var rejectFlag bool
	var byFlag string
	var reasonFlag string
	decide := &cobra.Command{
		Use:   "decide [action-id]",
		Short: "Apply a decision to a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approveFlag == rejectFlag {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			decision := approval.StatusApproved
			if rejectFlag {
				decision = approval.StatusRejected
			}
			req, err := e.approvals.Resolve(context.Background(), approval.DecisionEvent{
				ApprovalID: args[0],
				Decision:   decision,
				DecidedBy:  byFlag,
				DecidedAt:  time.Now(),
				Reason:     reasonFlag,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s is %s\n", req.ActionID, req.Status)
			return nil
		},
	}
	decide.Flags().BoolVar(&approveFlag, "approve", false, "approve the action")
	decide.Flags().BoolVar(&rejectFlag, "reject", false, "reject the action")
	decide.Flags().StringVar(&byFlag, "by", "", "who decided")
	decide.Flags().StringVar(&reasonFlag, "reason", "", "optional reason")
	cmd.AddCommand(decide)

	cmd.AddCommand(&cobra.Command{
		Use:   "wait [action-id]",
		Short: "Block until an approval resolves or times out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()
			e.scheduler.Start(context.Background())
			defer e.scheduler.Stop()

			out, err := e.approvals.Await(context.Background(), args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	return cmd
}

func holdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hold",
		Short: "Pause or resume automated action on a conversation",
	}

	var hours int
	var reason string
	set := &cobra.Command{
		Use:   "set [conversation-id]",
		Short: "Put a conversation on hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			until := time.Now().Add(time.Duration(hours) * time.Hour)
			if err := e.holds.Set(context.Background(), args[0], until, reason); err != nil {
				return err
			}
			fmt.Printf("%s on hold until %s\n", args[0], until.Format(time.RFC3339))
			return nil
		},
	}
	set.Flags().IntVar(&hours, "hours", 24, "hold duration in hours")
	set.Flags().StringVar(&reason, "reason", "", "why the conversation is paused")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [conversation-id]",
		Short: "Remove a hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()
			return e.holds.Clear(context.Background(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Show the active hold, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			info, err := e.holds.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			if info == nil {
				fmt.Printf("%s is not on hold\n", args[0])
				return nil
			}
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Index configured canned responses for similarity matching",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.Triage.Similarity.Enabled {
				return fmt.Errorf("similarity matching is disabled in the triage config")
			}
			if cfg.OpenAIAPIKey == "" {
				return fmt.Errorf("seeding requires an OpenAI API key for embeddings")
			}

			embedder, err := vectorindex.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.Triage.Similarity.EmbeddingModel)
			if err != nil {
				return err
			}
			index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{
				Path:       cfg.Triage.Similarity.IndexPath,
				Collection: cfg.Triage.Similarity.Collection,
			}, embedder)
			if err != nil {
				return err
			}

			docs := make([]vectorindex.Document, 0, len(cfg.Triage.Canned))
			for _, entry := range cfg.Triage.Canned {
				docs = append(docs, vectorindex.Document{
					ID:      entry.ID,
					Content: entry.Response,
					Metadata: map[string]string{
						"type":   "response",
						"app_id": cfg.Triage.AppID,
					},
				})
			}
			if len(docs) == 0 {
				return fmt.Errorf("no canned entries to index")
			}
			if err := index.Add(context.Background(), docs); err != nil {
				return err
			}
			fmt.Printf("Indexed %d canned responses.\n", len(docs))
			return nil
		},
	}
}
