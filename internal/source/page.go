package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"threadline.app/processor/internal/domain"
)

const (
	defaultPageBaseURL = "https://api.notion.com"
	pageAPIVersion     = "2022-06-28"
)

type pageCredentials struct {
	Token string `json:"token"`
}

// Page adapts workspace-page comment threads. The thread id is the
// discussion id shared by every comment in one thread.
type Page struct {
	httpClient *http.Client
	baseURL    string
}

type PageOption func(*Page)

func WithPageHTTPClient(c *http.Client) PageOption {
	return func(p *Page) { p.httpClient = c }
}

func WithPageBaseURL(u string) PageOption {
	return func(p *Page) { p.baseURL = u }
}

func NewPage(opts ...PageOption) *Page {
	p := &Page{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultPageBaseURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Page) SourceType() domain.SourceType {
	return domain.SourceNotionPage
}

type pageComment struct {
	ID           string `json:"id"`
	DiscussionID string `json:"discussion_id"`
	CreatedBy    struct {
		ID string `json:"id"`
	} `json:"created_by"`
	RichText []struct {
		PlainText string `json:"plain_text"`
	} `json:"rich_text"`
}

func (p *Page) FetchThread(ctx context.Context, threadID string, creds json.RawMessage) (*domain.Thread, error) {
	token, err := p.token(creds)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results []pageComment `json:"results"`
	}
	if err := p.call(ctx, token, http.MethodGet, "/v1/comments?block_id="+threadID, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching comments: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("thread %s has no comments", threadID)
	}

	thread := &domain.Thread{ID: threadID}
	seen := make(map[string]bool)
	for i, c := range resp.Results {
		m := domain.Message{
			Content:  plainText(c),
			AuthorID: c.CreatedBy.ID,
		}
		if i == 0 {
			thread.RootMessage = m
		} else {
			thread.Replies = append(thread.Replies, m)
		}
		if c.CreatedBy.ID != "" && !seen[c.CreatedBy.ID] {
			seen[c.CreatedBy.ID] = true
			thread.Participants = append(thread.Participants, c.CreatedBy.ID)
		}
	}
	return thread, nil
}

func (p *Page) PostReply(ctx context.Context, threadID, message string, creds json.RawMessage) error {
	token, err := p.token(creds)
	if err != nil {
		return err
	}

	body := map[string]any{
		"discussion_id": threadID,
		"rich_text": []any{
			map[string]any{"text": map[string]any{"content": message}},
		},
	}
	if err := p.call(ctx, token, http.MethodPost, "/v1/comments", body, nil); err != nil {
		return fmt.Errorf("posting reply: %w", err)
	}
	return nil
}

// UpdateStatus is a no-op: page comments have no status affordance.
func (p *Page) UpdateStatus(ctx context.Context, threadID, status string, creds json.RawMessage) error {
	return nil
}

func (p *Page) token(creds json.RawMessage) (string, error) {
	var c pageCredentials
	if err := json.Unmarshal(creds, &c); err != nil {
		return "", fmt.Errorf("parsing credentials: %w", err)
	}
	if c.Token == "" {
		return "", fmt.Errorf("missing token")
	}
	return c.Token, nil
}

func (p *Page) call(ctx context.Context, token, method, path string, body, result any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", pageAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("comments API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func plainText(c pageComment) string {
	var sb strings.Builder
	for _, rt := range c.RichText {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}
