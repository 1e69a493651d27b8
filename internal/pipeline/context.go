// Package pipeline sequences the fetch, extract, fingerprint, summarize,
// validate and store stages for one news item, plus the dispatcher that
// discovers items and the coordinator for on-demand detail requests.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shiranui/newsdigest/internal/llm"
	"github.com/shiranui/newsdigest/internal/summary"
	"github.com/shiranui/newsdigest/internal/urlnorm"
)

// detailReasons are the request reasons allowed to trigger an expensive
// detailed summarization, and only together with a request timestamp.
var detailReasons = map[string]bool{
	"detail":            true,
	"on_demand_summary": true,
	"manual_detail":     true,
}

// Source identifies where an item came from.
type Source struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	FeedURL string   `json:"feed_url,omitempty"`
	HomeURL string   `json:"home_url,omitempty"`
	Topics  []string `json:"default_topics,omitempty"`
}

// Item is one discovered article reference. Immutable once created: the id
// is a deterministic function of the normalized link, so re-discovering the
// same link yields the same id.
type Item struct {
	ID              string `json:"id"`
	Link            string `json:"link"`
	Title           string `json:"title,omitempty"`
	NormalizedLink  string `json:"normalized_link,omitempty"`
	LinkFingerprint string `json:"link_fingerprint,omitempty"`
	PublishedAt     string `json:"published_at,omitempty"`
}

// RequestContext carries why an item entered the pipeline.
type RequestContext struct {
	Reason      string `json:"reason,omitempty"`
	Trigger     string `json:"trigger,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	RequestedAt int64  `json:"requested_at,omitempty"`
}

// Context is the JSON envelope threaded through the stages. Source, Item and
// RequestContext are immutable inputs; the remaining fields are additive
// stage outputs. No stage overwrites a field written by an earlier one.
type Context struct {
	Source         Source         `json:"source"`
	Endpoint       string         `json:"endpoint,omitempty"`
	Item           Item           `json:"item"`
	RequestContext RequestContext `json:"request_context"`
	GenerateDetail bool           `json:"generate_detailed_summary,omitempty"`

	ArticleBody string               `json:"article_body,omitempty"`
	Fingerprint *urlnorm.Fingerprint `json:"fingerprint,omitempty"`
	Summaries   *summary.Result      `json:"summaries,omitempty"`
	LLM         *llm.Meta            `json:"llm,omitempty"`
	Validation  *summary.Validation  `json:"validation,omitempty"`
}

// DetailRequested reports whether this run may call the LLM for a detailed
// summary. The explicit flag always wins; a detail reason alone is not
// enough without a parseable request timestamp, so a mislabeled bulk message
// cannot trigger an expensive call by accident.
func (c *Context) DetailRequested() bool {
	if c.GenerateDetail {
		return true
	}
	reason := strings.ToLower(strings.TrimSpace(c.RequestContext.Reason))
	return detailReasons[reason] && c.RequestContext.RequestedAt != 0
}

// ParseRequest decodes a queue message into a Context. Non-JSON payloads and
// envelopes without an addressable item are fatal for that message.
func ParseRequest(data []byte) (Context, error) {
	var pc Context
	if err := json.Unmarshal(data, &pc); err != nil {
		return Context{}, fmt.Errorf("decoding pipeline request: %w", err)
	}
	if pc.Item.Link == "" && pc.Item.ID == "" {
		return Context{}, fmt.Errorf("pipeline request missing item link and id")
	}
	if pc.Source.ID == "" {
		return Context{}, fmt.Errorf("pipeline request missing source id")
	}
	return pc, nil
}
