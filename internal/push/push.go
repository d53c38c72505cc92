// Package push delivers notifications to registered client tokens.
package push

import (
	"context"
	"net/url"
	"strings"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

// MaxBatch is the largest token batch a single provider call accepts.
const MaxBatch = 500

// Message is one payload addressed to a batch of tokens.
type Message struct {
	Tokens  []string
	Payload models.PushPayload
	// Link is the absolute click target, when one can be built.
	Link string
}

// Result reports per-token outcomes of a send.
type Result struct {
	Delivered    int
	Failed       int
	Unregistered []string
}

// Sender hands messages to a push provider.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// NoopSender is used when push is not configured. Every send reports
// UNSUPPORTED so callers degrade silently.
type NoopSender struct{}

// Send implements Sender.
func (NoopSender) Send(context.Context, Message) (Result, error) {
	return Result{}, appErrors.Clone(appErrors.ErrUnsupported, "push delivery is not configured")
}

// ClickTarget returns the in-app path a notification click should open:
// data.URL (or defaultURL) with ?open=<id> appended when an id is present.
func ClickTarget(data models.PushData, defaultURL string) string {
	target := strings.TrimSpace(data.URL)
	if target == "" {
		target = defaultURL
	}
	if target == "" {
		target = "/"
	}
	if data.ID == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("open", data.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

// AbsoluteLink joins baseURL and target. It returns "" when baseURL is empty
// or invalid; providers that require absolute links then omit the link.
func AbsoluteLink(baseURL, target string) string {
	if baseURL == "" {
		return ""
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimLeft(target, "/"))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// Chunk splits tokens into provider-sized batches.
func Chunk(tokens []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatch
	}
	var out [][]string
	for len(tokens) > 0 {
		n := size
		if len(tokens) < n {
			n = len(tokens)
		}
		out = append(out, tokens[:n:n])
		tokens = tokens[n:]
	}
	return out
}
