package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultNotionBaseURL = "https://api.notion.com"
	notionVersion        = "2022-06-28"
	defaultTimeout       = 30 * time.Second
)

// NotionOutputConfig is the destination-specific half of a flow output: which
// database to write to and which property names the workspace uses. Property
// names vary per workspace, so they are configuration, not pipeline logic.
type NotionOutputConfig struct {
	DatabaseID       string `json:"database_id"`
	TitleProperty    string `json:"title_property,omitempty"`    // default "Name"
	StatusProperty   string `json:"status_property,omitempty"`   // optional
	StatusValue      string `json:"status_value,omitempty"`      // default "To Do"
	PriorityProperty string `json:"priority_property,omitempty"` // optional
	DomainProperty   string `json:"domain_property,omitempty"`   // optional
	AssigneeProperty string `json:"assignee_property,omitempty"` // optional
	SourceProperty   string `json:"source_property,omitempty"`   // optional URL property
}

// Notion creates tasks as pages in a Notion database.
type Notion struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NotionOption configures the client.
type NotionOption func(*Notion)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) NotionOption {
	return func(n *Notion) {
		n.httpClient = c
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) NotionOption {
	return func(n *Notion) {
		n.baseURL = u
	}
}

// NewNotion creates a client bound to one workspace integration token.
func NewNotion(token string, opts ...NotionOption) *Notion {
	n := &Notion{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultNotionBaseURL,
		token:      token,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotionFactory is a tracker.Factory producing Notion creators.
func NotionFactory(token string) Creator {
	return NewNotion(token)
}

type notionPage struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	CreatedTime time.Time `json:"created_time"`
}

type notionError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateTask creates one page in the configured database.
func (n *Notion) CreateTask(ctx context.Context, req Request) (*CreatedTask, error) {
	var cfg NotionOutputConfig
	if err := json.Unmarshal(req.Config, &cfg); err != nil {
		return nil, fmt.Errorf("parsing output config: %w", err)
	}
	if cfg.DatabaseID == "" {
		return nil, fmt.Errorf("output config has no database_id")
	}

	body := map[string]any{
		"parent":     map[string]any{"database_id": cfg.DatabaseID},
		"properties": n.properties(cfg, req),
	}
	if children := n.children(req); len(children) > 0 {
		body["children"] = children
	}

	var page notionPage
	if err := n.post(ctx, "/v1/pages", body, &page); err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}

	return &CreatedTask{ID: page.ID, URL: page.URL, CreatedAt: page.CreatedTime}, nil
}

func (n *Notion) properties(cfg NotionOutputConfig, req Request) map[string]any {
	titleProp := cfg.TitleProperty
	if titleProp == "" {
		titleProp = "Name"
	}

	props := map[string]any{
		titleProp: map[string]any{
			"title": []any{richText(req.Task.Title)},
		},
	}

	if cfg.StatusProperty != "" {
		status := cfg.StatusValue
		if status == "" {
			status = "To Do"
		}
		props[cfg.StatusProperty] = map[string]any{
			"status": map[string]any{"name": status},
		}
	}

	if cfg.PriorityProperty != "" && req.Task.Priority != "" {
		props[cfg.PriorityProperty] = map[string]any{
			"select": map[string]any{"name": req.Task.Priority},
		}
	}

	if cfg.DomainProperty != "" && req.Task.Domain != "" {
		props[cfg.DomainProperty] = map[string]any{
			"select": map[string]any{"name": req.Task.Domain},
		}
	}

	if cfg.AssigneeProperty != "" {
		if people := n.people(req); len(people) > 0 {
			props[cfg.AssigneeProperty] = map[string]any{"people": people}
		}
	}

	if cfg.SourceProperty != "" && req.SourceURL != "" {
		props[cfg.SourceProperty] = map[string]any{"url": req.SourceURL}
	}

	return props
}

func (n *Notion) people(req Request) []any {
	var people []any
	for _, name := range req.Task.Assignees {
		id, ok := req.IdentityMap[name]
		if !ok || id == "" {
			continue
		}
		people = append(people, map[string]any{"id": id})
	}
	return people
}

func (n *Notion) children(req Request) []any {
	var blocks []any

	if req.Task.Description != "" {
		blocks = append(blocks, paragraph(req.Task.Description))
	}
	if req.Summary != "" {
		blocks = append(blocks,
			heading("Discussion summary"),
			paragraph(req.Summary))
	}
	if req.SourceURL != "" {
		blocks = append(blocks, paragraph("Source: "+req.SourceURL))
	}

	return blocks
}

func (n *Notion) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Notion-Version", notionVersion)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr notionError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("notion API error %d (%s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("notion API error %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func richText(content string) map[string]any {
	return map[string]any{"text": map[string]any{"content": content}}
}

func paragraph(content string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "paragraph",
		"paragraph": map[string]any{
			"rich_text": []any{richText(content)},
		},
	}
}

func heading(content string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   "heading_2",
		"heading_2": map[string]any{
			"rich_text": []any{richText(content)},
		},
	}
}
