package domain

// Message is one entry in a reconstructed thread.
type Message struct {
	Content      string `json:"content"`
	AuthorHandle string `json:"author_handle"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorID     string `json:"author_id,omitempty"`
}

// Thread is the reconstructed root message plus all replies and participants
// for one discussion. Built once per processing attempt; mutated in place only
// to rewrite mention text and resolved author names.
type Thread struct {
	ID           string    `json:"id"`
	RootMessage  Message   `json:"root_message"`
	Replies      []Message `json:"replies"`
	Participants []string  `json:"participants"`
}

// AllMessages returns the root message followed by replies, in thread order.
func (t *Thread) AllMessages() []Message {
	msgs := make([]Message, 0, len(t.Replies)+1)
	msgs = append(msgs, t.RootMessage)
	msgs = append(msgs, t.Replies...)
	return msgs
}
