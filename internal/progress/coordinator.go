package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/onedrivesync/core/internal/accountid"
)

// minPublishInterval is the publisher-side throttle (spec §4.7): samples
// are emitted at most this often regardless of how frequently callers
// report progress.
const minPublishInterval = 100 * time.Millisecond

// throughputWindow is the rolling sample count used for the throughput
// average (spec §4.7: "rolling 10-sample rate").
const throughputWindow = 10

// etaFloorMBps is the throughput floor below which an ETA is omitted
// rather than reported as a near-infinite or wildly noisy estimate.
const etaFloorMBps = 0.01

const bytesPerMB = 1_000_000

// byteSample is one rolling-throughput data point: cumulative completed
// bytes observed at a point in time.
type byteSample struct {
	at    time.Time
	bytes int64
}

// Coordinator aggregates per-run counters and publishes throttled SyncState
// snapshots to any number of subscribers, retaining the last value so a
// subscriber that joins mid-run sees current state immediately (spec §5:
// "single-writer multi-reader publisher with last-value retention").
type Coordinator struct {
	mu      sync.Mutex
	state   SyncState
	samples []byteSample
	last    time.Time
	nowFunc func() time.Time

	subs   map[int]chan SyncState
	nextID int

	current atomic.Value // SyncState
}

// NewCoordinator creates a Coordinator for one account's sync run.
// nowFunc defaults to time.Now; tests may override it for deterministic
// throughput/ETA assertions.
func NewCoordinator(hashedID accountid.HashedAccountId, nowFunc func() time.Time) *Coordinator {
	if nowFunc == nil {
		nowFunc = time.Now
	}

	start := nowFunc()

	c := &Coordinator{
		state:   SyncState{HashedAccountID: hashedID, Status: StatusIdle, Timestamp: start},
		last:    start,
		nowFunc: nowFunc,
		subs:    make(map[int]chan SyncState),
	}
	c.current.Store(c.state)

	return c
}

// Subscribe registers a new reader and returns a channel that always holds
// the most recently published state (buffered, size 1; a slow reader
// misses intermediate samples but never a stale one) along with an
// unsubscribe function the caller must call when done reading.
func (c *Coordinator) Subscribe() (<-chan SyncState, func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan SyncState, 1)
	ch <- c.snapshotLocked()
	c.subs[id] = ch
	c.mu.Unlock()

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

// Snapshot returns the most recently published state without subscribing.
func (c *Coordinator) Snapshot() SyncState {
	return c.current.Load().(SyncState) //nolint:forcetypeassert // only ever stored by this type
}

// SetStatus transitions the published status, forcing immediate
// publication regardless of the throttle (status changes are rare and
// latency-sensitive; spec §4.8's phase transitions should be visible
// promptly).
func (c *Coordinator) SetStatus(status Status, message string) {
	c.mu.Lock()
	c.state.Status = status
	c.state.Message = message
	c.mu.Unlock()

	c.publish(true)
}

// SetTotals records the size of the work about to be done (spec §4.7:
// totalFiles/totalBytes), typically called once after Reconcile produces a
// Plan.
func (c *Coordinator) SetTotals(totalFiles int, totalBytes int64) {
	c.mu.Lock()
	c.state.TotalFiles = totalFiles
	c.state.TotalBytes = totalBytes
	c.mu.Unlock()

	c.publish(false)
}

// SetCurrentFolder records the folder currently being scanned or
// transferred, shown as optional context in the published state.
func (c *Coordinator) SetCurrentFolder(folder string) {
	c.mu.Lock()
	c.state.CurrentFolder = folder
	c.mu.Unlock()

	c.publish(false)
}

// SetActiveCounts records the number of transfers currently in flight in
// each direction (spec §4.7: filesUploading/filesDownloading).
func (c *Coordinator) SetActiveCounts(uploading, downloading int) {
	c.mu.Lock()
	c.state.FilesUploading = uploading
	c.state.FilesDownloading = downloading
	c.mu.Unlock()

	c.publish(false)
}

// RecordTransferComplete advances the completed-files/bytes counters
// (property 4: completedBytes/completedFiles are non-decreasing within a
// run) and folds the new sample into the rolling throughput window.
func (c *Coordinator) RecordTransferComplete(bytes int64) {
	c.mu.Lock()
	c.state.CompletedFiles++
	c.state.CompletedBytes += bytes

	now := c.nowFunc()
	c.samples = append(c.samples, byteSample{at: now, bytes: c.state.CompletedBytes})
	if len(c.samples) > throughputWindow {
		c.samples = c.samples[len(c.samples)-throughputWindow:]
	}

	c.state.ThroughputMBps, c.state.ETASeconds = computeRate(c.samples, c.state.TotalBytes, c.state.CompletedBytes)
	c.mu.Unlock()

	c.publish(false)
}

// RecordDeletion increments the deleted-files counter (spec §4.7:
// filesDeleted).
func (c *Coordinator) RecordDeletion() {
	c.mu.Lock()
	c.state.FilesDeleted++
	c.mu.Unlock()

	c.publish(false)
}

// RecordConflict increments the conflicts-detected counter (spec §4.7:
// conflictsDetected).
func (c *Coordinator) RecordConflict() {
	c.mu.Lock()
	c.state.ConflictsDetected++
	c.mu.Unlock()

	c.publish(false)
}

// computeRate derives throughput (MB/s, over the rolling sample window)
// and ETA (seconds, nil below etaFloorMBps) from the sample history.
func computeRate(samples []byteSample, totalBytes, completedBytes int64) (float64, *float64) {
	if len(samples) < 2 {
		return 0, nil
	}

	first, last := samples[0], samples[len(samples)-1]

	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0, nil
	}

	deltaBytes := last.bytes - first.bytes
	throughputMBps := float64(deltaBytes) / bytesPerMB / elapsed

	if throughputMBps < etaFloorMBps {
		return throughputMBps, nil
	}

	remaining := totalBytes - completedBytes
	if remaining < 0 {
		remaining = 0
	}

	etaSeconds := float64(remaining) / bytesPerMB / throughputMBps

	return throughputMBps, &etaSeconds
}

// publish stores the current state for Snapshot/new subscribers and
// broadcasts it to existing subscribers, subject to the 100ms throttle
// unless force is set (status transitions always publish immediately).
func (c *Coordinator) publish(force bool) {
	c.mu.Lock()

	now := c.nowFunc()
	if !force && now.Sub(c.last) < minPublishInterval {
		c.mu.Unlock()
		return
	}

	c.last = now
	c.state.Timestamp = now
	snapshot := c.state
	c.mu.Unlock()

	c.current.Store(snapshot)
	c.broadcast(snapshot)
}

// broadcast delivers snapshot to every subscriber's 1-buffered channel,
// dropping and replacing any undelivered prior value so each subscriber
// always holds the most recent state rather than blocking the publisher.
func (c *Coordinator) broadcast(snapshot SyncState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// snapshotLocked returns a copy of the current state. Caller must hold mu.
func (c *Coordinator) snapshotLocked() SyncState {
	return c.state
}
