package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"

	"game-reward-ledger/ledger"
	"game-reward-ledger/models"
	"game-reward-ledger/utils"
)

// DefaultExportOverlap is how far each run re-reads behind the previous
// cursor. Rows stamped at the cursor instant, or committed late by a slower
// transaction, fall inside it. A row committed more than the overlap after its
// UpdatedAt is still missed.
const DefaultExportOverlap = 5 * time.Minute

// AuditExporter copies session records changed since the previous export to
// object storage as JSON lines, one file per run.
type AuditExporter struct {
	Store    ledger.Store
	Uploader utils.ObjectUploader
	Clock    clockwork.Clock
	Prefix   string
	Overlap  time.Duration

	mu         sync.Mutex
	lastExport time.Time
	lastBase   string
	keySeq     int
	// content hash of the last exported version of each record inside the
	// overlap window
	exported map[models.SessionID]exportedVersion
}

type exportedVersion struct {
	hash      uint64
	updatedAt time.Time
}

func NewAuditExporter(store ledger.Store, uploader utils.ObjectUploader, clock clockwork.Clock) *AuditExporter {
	return &AuditExporter{
		Store:    store,
		Uploader: uploader,
		Clock:    clock,
		Prefix:   "ledger-audit",
		Overlap:  DefaultExportOverlap,
		exported: make(map[models.SessionID]exportedVersion),
	}
}

// ObjectKey names the export written at t.
func (e *AuditExporter) ObjectKey(t time.Time) string {
	name := slug.Make(fmt.Sprintf("sessions %s", t.UTC().Format("2006-01-02T15-04-05")))
	return e.Prefix + "/" + name + ".jsonl"
}

// Export uploads the changed records and returns the key written and the
// number of records. Nothing is uploaded when nothing changed.
//
// Each run lists from the previous cursor minus Overlap and skips records
// whose encoded form matches what was last exported for them. The cursor and
// the exported hashes move only after a successful upload, so a failed run is
// retried in full.
func (e *AuditExporter) Export(ctx context.Context) (string, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exported == nil {
		e.exported = make(map[models.SessionID]exportedVersion)
	}

	now := e.Clock.Now()
	since := e.lastExport
	if !since.IsZero() {
		since = since.Add(-e.Overlap)
	}
	recs, err := e.Store.ListUpdatedSince(ctx, since)
	if err != nil {
		return "", 0, fmt.Errorf("list records since %s: %w", since.Format(time.RFC3339), err)
	}

	var buf bytes.Buffer
	cursor := e.lastExport
	changed := make(map[models.SessionID]exportedVersion, len(recs))
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			return "", 0, fmt.Errorf("encode %s: %w", rec.SessionID, err)
		}
		if rec.UpdatedAt.After(cursor) {
			cursor = rec.UpdatedAt
		}
		v := exportedVersion{hash: xxhash.Sum64(line), updatedAt: rec.UpdatedAt}
		if prev, ok := e.exported[rec.SessionID]; ok && prev.hash == v.hash {
			continue
		}
		changed[rec.SessionID] = v
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if len(changed) == 0 {
		e.lastExport = cursor
		return "", 0, nil
	}

	// runs within the same second get a numbered suffix instead of
	// overwriting the earlier object
	base := e.ObjectKey(now)
	key, seq := base, 0
	if base == e.lastBase {
		seq = e.keySeq + 1
		key = fmt.Sprintf("%s-%d.jsonl", strings.TrimSuffix(base, ".jsonl"), seq)
	}
	if err := e.Uploader.PutObject(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return "", 0, err
	}

	e.lastExport = cursor
	e.lastBase, e.keySeq = base, seq
	for id, v := range changed {
		e.exported[id] = v
	}
	floor := cursor.Add(-e.Overlap)
	for id, v := range e.exported {
		if v.updatedAt.Before(floor) {
			delete(e.exported, id)
		}
	}
	log.Printf("📦 [AUDIT] exported %d session record(s) to %s", len(changed), key)
	return key, len(changed), nil
}
