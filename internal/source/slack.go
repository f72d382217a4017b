package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"threadline.app/processor/internal/domain"
)

const defaultSlackBaseURL = "https://slack.com/api"

// statusReactions maps pipeline status to the emoji reflected on the root
// message.
var statusReactions = map[string]string{
	StatusProcessing: "eyes",
	StatusCompleted:  "white_check_mark",
	StatusFailed:     "x",
}

type slackCredentials struct {
	BotToken string `json:"bot_token"`
}

// Slack adapts chat threads. Thread ids are "channel:rootTimestamp".
type Slack struct {
	httpClient *http.Client
	baseURL    string
}

type SlackOption func(*Slack)

func WithSlackHTTPClient(c *http.Client) SlackOption {
	return func(s *Slack) { s.httpClient = c }
}

func WithSlackBaseURL(u string) SlackOption {
	return func(s *Slack) { s.baseURL = u }
}

func NewSlack(opts ...SlackOption) *Slack {
	s := &Slack{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultSlackBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slack) SourceType() domain.SourceType {
	return domain.SourceSlack
}

type slackMessage struct {
	TS       string `json:"ts"`
	Text     string `json:"text"`
	User     string `json:"user"`
	Username string `json:"username"`
}

type slackRepliesResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error"`
	Messages []slackMessage `json:"messages"`
}

func (s *Slack) FetchThread(ctx context.Context, threadID string, creds json.RawMessage) (*domain.Thread, error) {
	token, channel, ts, err := s.parse(threadID, creds)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("channel", channel)
	params.Set("ts", ts)

	var resp slackRepliesResponse
	if err := s.call(ctx, token, "conversations.replies", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching thread: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("thread %s has no messages", threadID)
	}

	thread := &domain.Thread{ID: threadID}
	seen := make(map[string]bool)
	for i, msg := range resp.Messages {
		m := domain.Message{
			Content:      msg.Text,
			AuthorID:     msg.User,
			AuthorHandle: msg.Username,
		}
		if i == 0 {
			thread.RootMessage = m
		} else {
			thread.Replies = append(thread.Replies, m)
		}
		if msg.User != "" && !seen[msg.User] {
			seen[msg.User] = true
			thread.Participants = append(thread.Participants, msg.User)
		}
	}
	return thread, nil
}

func (s *Slack) PostReply(ctx context.Context, threadID, message string, creds json.RawMessage) error {
	token, channel, ts, err := s.parse(threadID, creds)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("channel", channel)
	params.Set("thread_ts", ts)
	params.Set("text", message)

	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := s.call(ctx, token, "chat.postMessage", params, &resp); err != nil {
		return fmt.Errorf("posting reply: %w", err)
	}
	return nil
}

func (s *Slack) UpdateStatus(ctx context.Context, threadID, status string, creds json.RawMessage) error {
	reaction, ok := statusReactions[status]
	if !ok {
		return nil
	}

	token, channel, ts, err := s.parse(threadID, creds)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("channel", channel)
	params.Set("timestamp", ts)
	params.Set("name", reaction)

	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := s.call(ctx, token, "reactions.add", params, &resp); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return nil
}

func (s *Slack) RemoveReaction(ctx context.Context, threadID, reactionID string, creds json.RawMessage) error {
	token, channel, ts, err := s.parse(threadID, creds)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("channel", channel)
	params.Set("timestamp", ts)
	params.Set("name", reactionID)

	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := s.call(ctx, token, "reactions.remove", params, &resp); err != nil {
		return fmt.Errorf("removing reaction: %w", err)
	}
	return nil
}

func (s *Slack) parse(threadID string, creds json.RawMessage) (token, channel, ts string, err error) {
	var c slackCredentials
	if err := json.Unmarshal(creds, &c); err != nil {
		return "", "", "", fmt.Errorf("parsing credentials: %w", err)
	}
	if c.BotToken == "" {
		return "", "", "", fmt.Errorf("missing bot_token")
	}

	channel, ts, ok := strings.Cut(threadID, ":")
	if !ok || channel == "" || ts == "" {
		return "", "", "", fmt.Errorf("malformed thread id %q", threadID)
	}
	return c.BotToken, channel, ts, nil
}

func (s *Slack) call(ctx context.Context, token, method string, params url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}

	// Slack reports failure in-band with 200s.
	var status struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &status); err == nil && !status.OK {
		return fmt.Errorf("%s failed: %s", method, status.Error)
	}
	return nil
}
