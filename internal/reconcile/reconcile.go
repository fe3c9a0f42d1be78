// Package reconcile orchestrates one synchronization run: load the
// watermark, resolve the destination list, map existing bookmarks by
// embedded chat id, upsert every source chat changed since the watermark,
// then persist the highest successfully synced timestamp.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/agentworkforce/karasync/internal/conversation"
	"github.com/agentworkforce/karasync/internal/karakeep"
	"github.com/agentworkforce/karasync/internal/source"
	"github.com/agentworkforce/karasync/internal/state"
	"github.com/agentworkforce/karasync/internal/titletag"
)

// SourceReader is the slice of source.Reader the reconciler consumes.
type SourceReader interface {
	FetchChangedSince(ctx context.Context, watermark int64) ([]source.ChatRecord, error)
}

// Destination is the slice of the karakeep client the reconciler consumes.
type Destination interface {
	FindOrCreateList(ctx context.Context, name string) (string, error)
	ScanExistingItems(ctx context.Context, listID string) map[string]string
	Upsert(ctx context.Context, payload karakeep.BookmarkPayload, listID, existingID string) error
}

// StateStore is the slice of state.Store the reconciler consumes.
type StateStore interface {
	Load() (int64, error)
	Save(epoch int64) error
}

// Logger matches the subset of *log.Logger the reconciler needs.
type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Source         SourceReader
	Destination    Destination
	State          StateStore
	ListName       string
	MaxTitleLength int           // defaults to titletag.DefaultMaxLength
	RecordDelay    time.Duration // pause between per-record upserts
	Logger         Logger
}

type Reconciler struct {
	source      SourceReader
	dest        Destination
	state       StateStore
	listName    string
	maxTitleLen int
	recordDelay time.Duration
	logger      Logger
	formatter   conversation.Formatter
}

// Summary reports what one run did. Individual record failures end up in
// Failed and never fail the run; the caller decides how loudly to report
// them.
type Summary struct {
	Found     int           // records the source query returned
	Attempted int           // records an upsert was attempted for
	Synced    int           // records upserted successfully
	Failed    int           // records that failed and will be retried next run
	Watermark int64         // epoch seconds after the run
	Advanced  bool          // whether the watermark moved past its loaded value
	Duration  time.Duration
}

func New(opts Options) (*Reconciler, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("source reader is required")
	}
	if opts.Destination == nil {
		return nil, fmt.Errorf("destination client is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.ListName == "" {
		return nil, fmt.Errorf("target list name is required")
	}
	maxTitleLen := opts.MaxTitleLength
	if maxTitleLen <= 0 {
		maxTitleLen = titletag.DefaultMaxLength
	}
	recordDelay := opts.RecordDelay
	if recordDelay <= 0 {
		recordDelay = 100 * time.Millisecond
	}
	return &Reconciler{
		source:      opts.Source,
		dest:        opts.Destination,
		state:       opts.State,
		listName:    opts.ListName,
		maxTitleLen: maxTitleLen,
		recordDelay: recordDelay,
		logger:      opts.Logger,
		formatter:   conversation.Formatter{Logger: opts.Logger},
	}, nil
}

// Run executes one full pass. It returns an error only for setup failures
// (unresolvable list); once processing starts the run always completes and
// reports a Summary, and the watermark advances only past records that
// synced successfully.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	watermark, err := r.state.Load()
	if err != nil {
		r.logf("warning: could not load sync state (%v); starting from %s", err, state.InitialTimestamp)
		watermark = 0
	}
	r.logf("syncing chats updated after %s (epoch %d)", state.ISOTimestamp(watermark), watermark)

	listID, err := r.dest.FindOrCreateList(ctx, r.listName)
	if err != nil {
		return sum, fmt.Errorf("could not find or create target list %q: %w", r.listName, err)
	}

	existing := r.dest.ScanExistingItems(ctx, listID)

	records, err := r.source.FetchChangedSince(ctx, watermark)
	if err != nil {
		r.logf("ERROR: source query failed: %v", err)
		records = nil
	}
	sum.Found = len(records)
	if len(records) == 0 {
		r.logf("no chats found requiring update")
	}

	maxSynced := watermark
	for i, record := range records {
		if ctx.Err() != nil {
			r.logf("run interrupted: %v", ctx.Err())
			break
		}
		sum.Attempted++
		r.logf("[%d/%d] processing chat %s (updated %s)",
			i+1, len(records), record.ID, state.ISOTimestamp(record.UpdatedAt))

		payload := r.buildPayload(record)
		if err := r.dest.Upsert(ctx, payload, listID, existing[record.ID]); err != nil {
			sum.Failed++
			r.logf("ERROR: failed to sync chat %s: %v", record.ID, err)
		} else {
			sum.Synced++
			if record.UpdatedAt > maxSynced {
				maxSynced = record.UpdatedAt
			}
		}
		if err := sleepContext(ctx, r.recordDelay); err != nil {
			break
		}
	}

	sum.Advanced = maxSynced > watermark
	if sum.Advanced {
		if err := r.state.Save(maxSynced); err != nil {
			r.logf("ERROR: could not persist sync state: %v", err)
		} else {
			r.logf("saved sync state; last timestamp %s", state.ISOTimestamp(maxSynced))
		}
	}
	sum.Watermark = maxSynced
	sum.Duration = time.Since(start)
	return sum, nil
}

// buildPayload turns one source record into the bookmark create/update
// body. Data problems degrade to placeholder text; a record is never
// skipped for being malformed, only for failing to upsert.
func (r *Reconciler) buildPayload(record source.ChatRecord) karakeep.BookmarkPayload {
	text := r.formatRecord(record)
	title := record.Title
	if title == "" {
		title = "Untitled Chat " + record.ID
	}
	if len(titletag.Tag(record.ID)) > r.maxTitleLen {
		r.logf("warning: identifier tag for chat %s alone exceeds the %d character title limit; truncating tag (bookmark will not be matchable)",
			record.ID, r.maxTitleLen)
	}
	return karakeep.NewTextBookmark(titletag.Encode(title, record.ID, r.maxTitleLen), text)
}

func (r *Reconciler) formatRecord(record source.ChatRecord) string {
	if record.Chat == "" {
		r.logf("warning: chat column is empty for chat %s", record.ID)
		return "[Chat JSON data missing in source database]"
	}
	messages, err := conversation.ParseChat([]byte(record.Chat))
	if err != nil {
		r.logf("ERROR: failed to parse chat JSON for chat %s: %v", record.ID, err)
		return fmt.Sprintf("[ERROR: Invalid JSON structure in source database - %v]", err)
	}
	if len(messages) == 0 {
		r.logf("warning: no messages in chat JSON for chat %s", record.ID)
		return "[No messages found in chat JSON data]"
	}
	return r.formatter.Format(messages)
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
