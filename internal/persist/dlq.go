// Package persist drains the ingestion queue and writes batches to the
// store, with bounded retries and a local dead-letter queue for batches
// that could not be persisted.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/logtide/logtide/internal/event"
	"github.com/logtide/logtide/internal/storage"
)

// dlqSuffix marks dead-letter files: snappy-compressed JSON arrays of
// events. The filename prefix is the unix timestamp of the failure,
// which drives TTL expiry without touching mtimes.
const dlqSuffix = ".json.sz"

// DLQ stores batches that exhausted their persistence retries on local
// disk so they survive a restart and can be replayed against a healthy
// store. Capacity is bounded by age and total size; when full, the
// oldest files are discarded first.
type DLQ struct {
	dir      string
	maxAge   time.Duration
	maxBytes int64
	log      zerolog.Logger
}

// NewDLQ initializes the dead-letter directory.
func NewDLQ(dir string, maxAge time.Duration, maxBytes int64, logger zerolog.Logger) (*DLQ, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: failed to create dead-letter directory: %w", err)
	}
	return &DLQ{
		dir:      dir,
		maxAge:   maxAge,
		maxBytes: maxBytes,
		log:      logger,
	}, nil
}

// Store writes one failed batch to disk.
func (d *DLQ) Store(b *event.Batch) error {
	data, err := json.Marshal(b.Events)
	if err != nil {
		return fmt.Errorf("persist: failed to encode dead-letter batch: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	name := fmt.Sprintf("%d_%s%s", time.Now().Unix(), uuid.NewString()[:8], dlqSuffix)
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, compressed, 0o600); err != nil {
		return fmt.Errorf("persist: failed to write dead-letter file: %w", err)
	}

	d.log.Warn().
		Str("file", name).
		Int("events", b.Len()).
		Msg("batch dead-lettered")
	return nil
}

// Replay attempts to persist every dead-letter file, oldest first,
// deleting files that commit. Files that still fail are kept for the
// next replay. Inserts are idempotent by event id, so replaying a file
// that partially made it to storage earlier is safe. Returns the
// number of batches and events that reached the store.
func (d *DLQ) Replay(ctx context.Context, store storage.Store) (batches, events int, err error) {
	files, err := d.files()
	if err != nil {
		return 0, 0, err
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return batches, events, ctx.Err()
		}

		b, err := d.read(f.path)
		if err != nil {
			// Unreadable file: drop it, it will never replay.
			d.log.Error().Err(err).Str("file", f.path).Msg("removing corrupt dead-letter file")
			os.Remove(f.path)
			continue
		}

		if err := store.InsertBatch(ctx, b); err != nil {
			d.log.Warn().Err(err).Str("file", f.path).Msg("dead-letter replay failed, keeping file")
			continue
		}
		os.Remove(f.path)
		batches++
		events += b.Len()
	}
	return batches, events, nil
}

// Sweep removes files past maxAge and then, oldest first, enough files
// to bring the directory under maxBytes. Returns the number removed.
func (d *DLQ) Sweep() int {
	files, err := d.files()
	if err != nil {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-d.maxAge).Unix()
	var remaining []dlqFile
	var total int64

	for _, f := range files {
		if d.maxAge > 0 && f.createdUnix < cutoff {
			os.Remove(f.path)
			removed++
			continue
		}
		remaining = append(remaining, f)
		total += f.size
	}

	if d.maxBytes > 0 {
		for _, f := range remaining {
			if total <= d.maxBytes {
				break
			}
			os.Remove(f.path)
			total -= f.size
			removed++
		}
	}

	if removed > 0 {
		d.log.Info().Int("removed", removed).Msg("dead-letter sweep")
	}
	return removed
}

type dlqFile struct {
	path        string
	createdUnix int64
	size        int64
}

// files lists dead-letter files sorted oldest first.
func (d *DLQ) files() ([]dlqFile, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to read dead-letter directory: %w", err)
	}

	var files []dlqFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), dlqSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		created := info.ModTime().Unix()
		if idx := strings.IndexByte(e.Name(), '_'); idx > 0 {
			if ts, err := strconv.ParseInt(e.Name()[:idx], 10, 64); err == nil {
				created = ts
			}
		}
		files = append(files, dlqFile{
			path:        filepath.Join(d.dir, e.Name()),
			createdUnix: created,
			size:        info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].createdUnix < files[j].createdUnix })
	return files, nil
}

// read decodes one dead-letter file back into a batch.
func (d *DLQ) read(path string) (*event.Batch, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to read dead-letter file: %w", err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to decompress dead-letter file: %w", err)
	}

	var events []*event.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("persist: failed to decode dead-letter file: %w", err)
	}
	return &event.Batch{Events: events}, nil
}
