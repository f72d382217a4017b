package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"threadline.app/processor/common/crypto"
	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/model"
	"threadline.app/processor/internal/store"
)

// ErrNoConfig is returned when a resolver has no configuration for the
// discussion's source. The chain treats it as "try the next strategy"; the
// pipeline treats it as a non-retryable configuration failure.
var ErrNoConfig = errors.New("no matching configuration")

// ResolvedConfig is everything downstream stages need from configuration:
// the owning flow (nil on the legacy path), the input that matched the
// discussion's source, the candidate outputs, and the decrypted destination
// token.
type ResolvedConfig struct {
	Flow         *model.Flow
	MatchedInput *model.FlowInput
	Outputs      []model.FlowOutput
	Legacy       *model.LegacyConfig
	TeamID       int64
	TrackerToken string
}

// AIEnabled defaults to true on the legacy path, which predates the toggle.
func (c *ResolvedConfig) AIEnabled() bool {
	if c.Flow != nil {
		return c.Flow.AIEnabled
	}
	return true
}

func (c *ResolvedConfig) SummaryPrompt() *string {
	if c.Flow != nil {
		return c.Flow.SummaryPrompt
	}
	return nil
}

func (c *ResolvedConfig) TaskPrompt() *string {
	if c.Flow != nil {
		return c.Flow.TaskPrompt
	}
	return nil
}

func (c *ResolvedConfig) ReplyPersonality() *string {
	if c.Flow != nil {
		return c.Flow.ReplyPersonality
	}
	return nil
}

func (c *ResolvedConfig) AvailableDomains() []string {
	if c.Flow != nil {
		return c.Flow.AvailableDomains
	}
	return nil
}

// SourceCredentials returns the credentials for talking back to the origin
// platform.
func (c *ResolvedConfig) SourceCredentials() json.RawMessage {
	if c.MatchedInput != nil {
		return c.MatchedInput.Credentials
	}
	if c.Legacy != nil {
		return c.Legacy.Config
	}
	return nil
}

// ConfigResolver resolves the configuration owning a discussion. Strategies
// are explicit and ordered; each either resolves, reports ErrNoConfig, or
// fails hard.
type ConfigResolver interface {
	Resolve(ctx context.Context, disc *domain.ParsedDiscussion) (*ResolvedConfig, error)
}

// NewConfigResolver builds the production strategy chain: flow-based
// configuration first, the pre-flow single-destination configuration as
// fallback.
func NewConfigResolver(flows store.FlowStore, legacy store.LegacyConfigStore, cipher *crypto.Cipher) ConfigResolver {
	return &chainResolver{resolvers: []ConfigResolver{
		&flowResolver{flows: flows, cipher: cipher},
		&legacyResolver{legacy: legacy},
	}}
}

type chainResolver struct {
	resolvers []ConfigResolver
}

func (r *chainResolver) Resolve(ctx context.Context, disc *domain.ParsedDiscussion) (*ResolvedConfig, error) {
	for _, resolver := range r.resolvers {
		cfg, err := resolver.Resolve(ctx, disc)
		if errors.Is(err, ErrNoConfig) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return nil, ErrNoConfig
}

type flowResolver struct {
	flows  store.FlowStore
	cipher *crypto.Cipher
}

func (r *flowResolver) Resolve(ctx context.Context, disc *domain.ParsedDiscussion) (*ResolvedConfig, error) {
	inputs, err := r.flows.ListActiveInputsBySourceType(ctx, string(disc.SourceType))
	if err != nil {
		return nil, fmt.Errorf("listing flow inputs: %w", err)
	}

	var (
		input *model.FlowInput
		flow  *model.Flow
	)
	for _, candidate := range matchInputs(inputs, disc) {
		f, err := r.flows.GetByID(ctx, candidate.FlowID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Orphaned input: its flow was deleted underneath it. Inputs
				// and flows are edited independently, so skip it and keep
				// scanning rather than failing the team outright.
				slog.WarnContext(ctx, "flow input references missing flow, skipping",
					"input_id", candidate.ID,
					"flow_id", candidate.FlowID)
				continue
			}
			return nil, fmt.Errorf("loading flow %d: %w", candidate.FlowID, err)
		}
		if !f.Active {
			continue
		}
		input, flow = candidate, f
		break
	}
	if input == nil {
		return nil, ErrNoConfig
	}

	outputs, err := r.flows.ListOutputsByFlow(ctx, flow.ID)
	if err != nil {
		return nil, fmt.Errorf("listing flow outputs: %w", err)
	}

	token := ""
	if flow.APIKeyEncrypted != "" {
		token, err = r.cipher.Decrypt(flow.APIKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypting flow %d API key: %w", flow.ID, err)
		}
	}

	slog.DebugContext(ctx, "flow configuration resolved",
		"flow_id", flow.ID,
		"team_id", flow.TeamID,
		"input_id", input.ID,
		"outputs", len(outputs),
		"token_hint", crypto.Hint(token))

	return &ResolvedConfig{
		Flow:         flow,
		MatchedInput: input,
		Outputs:      outputs,
		TeamID:       flow.TeamID,
		TrackerToken: token,
	}, nil
}

// matchInputs returns the inputs whose platform identifier matches the
// discussion, in listing order. Chat and page platforms identify by
// workspace; comment-by-email platforms by email slug. A page-comment input
// with no stored identifier accepts any discussion from its platform.
func matchInputs(inputs []model.FlowInput, disc *domain.ParsedDiscussion) []*model.FlowInput {
	workspace := disc.WorkspaceID()
	var matched []*model.FlowInput
	for i := range inputs {
		in := &inputs[i]
		switch {
		case in.WorkspaceID != nil && workspace != "" && *in.WorkspaceID == workspace:
			matched = append(matched, in)
		case in.EmailSlug != nil && disc.EmailSlug() != "" && *in.EmailSlug == disc.EmailSlug():
			matched = append(matched, in)
		case disc.SourceType == domain.SourceNotionPage && in.WorkspaceID == nil && in.EmailSlug == nil:
			matched = append(matched, in)
		}
	}
	return matched
}

type legacyResolver struct {
	legacy store.LegacyConfigStore
}

// legacyConfig is the destination half of a pre-flow configuration row.
type legacyConfig struct {
	NotionToken string `json:"notion_token"`
}

func (r *legacyResolver) Resolve(ctx context.Context, disc *domain.ParsedDiscussion) (*ResolvedConfig, error) {
	cfg, err := r.legacy.GetActiveBySource(ctx, string(disc.SourceType), disc.WorkspaceID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("loading legacy config: %w", err)
	}

	var dest legacyConfig
	if len(cfg.Config) > 0 {
		if err := json.Unmarshal(cfg.Config, &dest); err != nil {
			return nil, fmt.Errorf("parsing legacy config %d: %w", cfg.ID, err)
		}
	}

	outputConfig, err := json.Marshal(map[string]string{"database_id": cfg.NotionDatabaseID})
	if err != nil {
		return nil, fmt.Errorf("building legacy output config: %w", err)
	}

	slog.InfoContext(ctx, "resolved legacy configuration",
		"config_id", cfg.ID,
		"team_id", cfg.TeamID)

	// A legacy row is equivalent to one wildcard default output.
	return &ResolvedConfig{
		Legacy: cfg,
		Outputs: []model.FlowOutput{{
			TeamID:     cfg.TeamID,
			OutputType: "notion",
			Config:     outputConfig,
			IsDefault:  true,
		}},
		TeamID:       cfg.TeamID,
		TrackerToken: dest.NotionToken,
	}, nil
}
