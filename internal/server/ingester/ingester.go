// Package ingester consumes the firehose change stream and reconciles the
// cache with the authoritative stores. It is the repair path for every
// mirror write the coordinators could not complete, and it picks up edits
// made through other clients.
package ingester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/models"
	"github.com/flashstacks/flashstacks/internal/server/repositories/cursors"
	"github.com/flashstacks/flashstacks/internal/server/repositories/repomanager"
	"github.com/gorilla/websocket"
)

// cursorID keys the persisted resume position.
const cursorID = "jetstream"

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// errBadRecord marks an event whose record payload cannot be decoded.
// Such events are skipped instead of forcing a reconnect loop.
var errBadRecord = errors.New("malformed record")

// Event is one firehose message, filtered server-side to the collections
// named in the subscription URL.
type Event struct {
	DID    string  `json:"did"`
	TimeUS int64   `json:"time_us"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit describes a record operation inside a commit event.
type Commit struct {
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

// Store gives the ingester transactional access to the cache, so an event's
// rows and the advanced cursor commit together.
type Store interface {
	Cursors() cursors.Repository
	InTx(ctx context.Context, fn func(ctx context.Context, r repomanager.TxRepositories) error) error
}

// Ingester subscribes to the change stream and applies each event to the
// cache as an idempotent upsert or delete.
type Ingester struct {
	streamURL      string
	store          Store
	logger         logging.Logger
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
}

func New(streamURL string, store Store, logger logging.Logger) *Ingester {
	return &Ingester{
		streamURL:      streamURL,
		store:          store,
		logger:         logger.With("module", "ingester"),
		dialer:         websocket.DefaultDialer,
		reconnectDelay: initialReconnectDelay,
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting with capped
// exponential backoff. Each event and the advanced cursor commit in one
// cache transaction, so a failed apply rolls back, reconnects, and replays
// from the last committed cursor; replays are harmless because applies are
// idempotent.
func (i *Ingester) Run(ctx context.Context) error {
	cursor, ok, err := i.store.Cursors().Get(ctx, cursorID)
	if err != nil {
		return fmt.Errorf("loading resume cursor: %w", err)
	}
	if ok {
		i.logger.Info(ctx, "resuming change stream", "cursor", cursor)
	}

	delay := i.reconnectDelay
	for {
		err := i.consume(ctx, &cursor)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.logger.Warn(ctx, "change stream disconnected", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// consume holds one websocket connection open and applies events until the
// connection drops, an apply fails, or ctx is cancelled. cursor is advanced
// in place, only past committed events.
func (i *Ingester) consume(ctx context.Context, cursor *int64) error {
	endpoint, err := i.subscribeURL(*cursor)
	if err != nil {
		return err
	}

	conn, _, err := i.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing change stream: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading change stream: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			i.logger.Warn(ctx, "skipping malformed event", "error", err)
			continue
		}

		err = i.store.InTx(ctx, func(ctx context.Context, r repomanager.TxRepositories) error {
			if err := i.apply(ctx, r, &ev); err != nil {
				return err
			}
			return r.Cursors.Set(ctx, cursorID, ev.TimeUS)
		})
		switch {
		case err == nil:
			*cursor = ev.TimeUS
		case errors.Is(err, errBadRecord):
			// poison event; later events advance the cursor past it
			i.logger.Warn(ctx, "skipping undecodable record", "did", ev.DID, "time_us", ev.TimeUS, "error", err)
		default:
			// transient cache failure: reconnect and replay from the
			// last committed cursor
			return fmt.Errorf("applying event at %d: %w", ev.TimeUS, err)
		}
	}
}

func (i *Ingester) subscribeURL(cursor int64) (string, error) {
	u, err := url.Parse(i.streamURL)
	if err != nil {
		return "", fmt.Errorf("parsing stream url: %w", err)
	}
	q := u.Query()
	q.Del("wantedCollections")
	q.Add("wantedCollections", atproto.StackCollection)
	q.Add("wantedCollections", atproto.CardCollection)
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// apply reconciles one event into the cache. Creates and updates collapse
// into an upsert keyed by the record URI, so replayed or out-of-date rows
// converge on the stream's view.
func (i *Ingester) apply(ctx context.Context, r repomanager.TxRepositories, ev *Event) error {
	if ev.Kind != "commit" || ev.Commit == nil {
		return nil
	}
	c := ev.Commit
	uri := atproto.URI{DID: ev.DID, Collection: c.Collection, RKey: c.RKey}.String()
	indexedAt := time.UnixMicro(ev.TimeUS).UTC()

	switch c.Collection {
	case atproto.StackCollection:
		if c.Operation == "delete" {
			return r.Stacks.DeleteByURI(ctx, uri)
		}
		var rec atproto.StackRecord
		if err := json.Unmarshal(c.Record, &rec); err != nil {
			return fmt.Errorf("%w: decoding stack record: %v", errBadRecord, err)
		}
		return r.Stacks.Upsert(ctx, &models.Stack{
			URI:       uri,
			AuthorDID: ev.DID,
			FrontLang: rec.FrontLang,
			BackLang:  rec.BackLang,
			Label:     rec.Label,
			CreatedAt: rec.CreatedAt,
			IndexedAt: indexedAt,
		})

	case atproto.CardCollection:
		if c.Operation == "delete" {
			return r.Cards.DeleteByURI(ctx, uri)
		}
		var rec atproto.CardRecord
		if err := json.Unmarshal(c.Record, &rec); err != nil {
			return fmt.Errorf("%w: decoding card record: %v", errBadRecord, err)
		}
		return r.Cards.Upsert(ctx, &models.Card{
			URI:       uri,
			AuthorDID: ev.DID,
			FrontLang: rec.FrontLang,
			FrontText: rec.FrontText,
			BackLang:  rec.BackLang,
			BackText:  rec.BackText,
			CreatedAt: rec.CreatedAt,
			IndexedAt: indexedAt,
			StackID:   rec.StackID,
		})
	}
	return nil
}
