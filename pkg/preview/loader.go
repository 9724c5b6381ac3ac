package preview

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/papercomputeco/oryx/pkg/logger"
)

// Params identifies the retrieval to preview.
type Params struct {
	ContentID string
	MessageID string
	Extras    map[string]any
}

// Fetcher returns the raw metadata document for one retrieval.
type Fetcher interface {
	FetchPreview(ctx context.Context, p Params) (json.RawMessage, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, p Params) (json.RawMessage, error)

func (f FetcherFunc) FetchPreview(ctx context.Context, p Params) (json.RawMessage, error) {
	return f(ctx, p)
}

// Result is the outcome of one Load. Exactly one of Metadata and Err is set,
// unless the params were incomplete, in which case both are nil.
type Result struct {
	Metadata *Metadata
	Err      *Error
	// Stale is set when a later Load started before this one finished. Callers
	// discard stale results.
	Stale bool
}

// Loader fetches and validates preview metadata. When loads overlap only the
// most recently started one is current.
type Loader struct {
	fetcher Fetcher
	logger  *slog.Logger
	seq     atomic.Uint64
}

// NewLoader creates a Loader. A nil logger discards output.
func NewLoader(f Fetcher, l *slog.Logger) *Loader {
	if l == nil {
		l = logger.Nop()
	}
	return &Loader{fetcher: f, logger: l}
}

// Load fetches metadata for p. Missing ids reset the preview without a fetch.
func (l *Loader) Load(ctx context.Context, p Params) Result {
	seq := l.seq.Add(1)
	if p.ContentID == "" || p.MessageID == "" {
		return Result{}
	}

	res := l.load(ctx, p)
	if l.seq.Load() != seq {
		l.logger.Debug("discarding stale preview", "content_id", p.ContentID, "message_id", p.MessageID)
		res.Stale = true
	}
	return res
}

func (l *Loader) load(ctx context.Context, p Params) Result {
	raw, err := l.fetcher.FetchPreview(ctx, p)
	if err != nil {
		l.logger.Warn("preview fetch failed", "content_id", p.ContentID, "error", err)
		return Result{Err: ExtractError(err)}
	}

	md, err := ParseMetadata(raw)
	if err != nil {
		l.logger.Warn("invalid preview metadata", "content_id", p.ContentID, "error", err)
		return Result{Err: ExtractError(err)}
	}
	return Result{Metadata: &md}
}
