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

const defaultFigmaBaseURL = "https://api.figma.com"

type figmaCredentials struct {
	Token string `json:"token"`
}

// Figma adapts design-review comment threads. Thread ids are
// "fileKey:rootCommentID". The comments API returns the whole file's
// comments, so fetching filters down to the root and its replies.
type Figma struct {
	httpClient *http.Client
	baseURL    string
}

type FigmaOption func(*Figma)

func WithFigmaHTTPClient(c *http.Client) FigmaOption {
	return func(f *Figma) { f.httpClient = c }
}

func WithFigmaBaseURL(u string) FigmaOption {
	return func(f *Figma) { f.baseURL = u }
}

func NewFigma(opts ...FigmaOption) *Figma {
	f := &Figma{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultFigmaBaseURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Figma) SourceType() domain.SourceType {
	return domain.SourceFigma
}

type figmaComment struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Message  string `json:"message"`
	User     struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"user"`
}

func (f *Figma) FetchThread(ctx context.Context, threadID string, creds json.RawMessage) (*domain.Thread, error) {
	token, fileKey, commentID, err := f.parse(threadID, creds)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Comments []figmaComment `json:"comments"`
	}
	if err := f.call(ctx, token, http.MethodGet, "/v1/files/"+fileKey+"/comments", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching comments: %w", err)
	}

	thread := &domain.Thread{ID: threadID}
	seen := make(map[string]bool)
	found := false

	add := func(c figmaComment, root bool) {
		m := domain.Message{
			Content:      c.Message,
			AuthorID:     c.User.ID,
			AuthorHandle: c.User.Handle,
		}
		if root {
			thread.RootMessage = m
		} else {
			thread.Replies = append(thread.Replies, m)
		}
		if c.User.ID != "" && !seen[c.User.ID] {
			seen[c.User.ID] = true
			thread.Participants = append(thread.Participants, c.User.ID)
		}
	}

	for _, c := range resp.Comments {
		switch {
		case c.ID == commentID:
			add(c, true)
			found = true
		case c.ParentID == commentID:
			add(c, false)
		}
	}
	if !found {
		return nil, fmt.Errorf("comment %s not found in file %s", commentID, fileKey)
	}
	return thread, nil
}

func (f *Figma) PostReply(ctx context.Context, threadID, message string, creds json.RawMessage) error {
	token, fileKey, commentID, err := f.parse(threadID, creds)
	if err != nil {
		return err
	}

	body := map[string]any{
		"message":    message,
		"comment_id": commentID,
	}
	if err := f.call(ctx, token, http.MethodPost, "/v1/files/"+fileKey+"/comments", body, nil); err != nil {
		return fmt.Errorf("posting reply: %w", err)
	}
	return nil
}

// UpdateStatus is a no-op: design comments carry no status affordance, the
// acknowledgment reply is the only feedback channel.
func (f *Figma) UpdateStatus(ctx context.Context, threadID, status string, creds json.RawMessage) error {
	return nil
}

func (f *Figma) parse(threadID string, creds json.RawMessage) (token, fileKey, commentID string, err error) {
	var c figmaCredentials
	if err := json.Unmarshal(creds, &c); err != nil {
		return "", "", "", fmt.Errorf("parsing credentials: %w", err)
	}
	if c.Token == "" {
		return "", "", "", fmt.Errorf("missing token")
	}

	fileKey, commentID, ok := strings.Cut(threadID, ":")
	if !ok || fileKey == "" || commentID == "" {
		return "", "", "", fmt.Errorf("malformed thread id %q", threadID)
	}
	return c.Token, fileKey, commentID, nil
}

func (f *Figma) call(ctx context.Context, token, method, path string, body, result any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Figma-Token", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("figma API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
