// Package scheduler
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/amirphl/Pythia/app/middleware"
	businessflow "github.com/amirphl/Pythia/business_flow"
	"github.com/amirphl/Pythia/models"
	"github.com/amirphl/Pythia/repository"
	"github.com/amirphl/Pythia/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
)

// drainLockKey guards the drain loop so only one instance replays the queue
// at a time. Redelivery after a lost lock is absorbed by the coordinator's
// idempotence, so the lock only has to be mostly exclusive.
const drainLockKey = "submission:queue:drain-lock"

// QueueDrainer periodically replays buffered overflow submissions into the
// primary store once capacity recovers below the queueing level.
type QueueDrainer struct {
	flow       businessflow.SubmissionFlow
	queue      businessflow.SubmissionQueue
	capacity   businessflow.CapacityMonitor
	auditRepo  repository.SubmissionAuditRepository
	rc         redis.Cmdable
	logger     *log.Logger
	interval   time.Duration
	batchSize  int64
	instanceID string
}

func NewQueueDrainer(
	flow businessflow.SubmissionFlow,
	queue businessflow.SubmissionQueue,
	capacity businessflow.CapacityMonitor,
	auditRepo repository.SubmissionAuditRepository,
	rc redis.Cmdable,
	interval time.Duration,
	batchSize int64,
) *QueueDrainer {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	d := &QueueDrainer{
		flow:       flow,
		queue:      queue,
		capacity:   capacity,
		auditRepo:  auditRepo,
		rc:         rc,
		interval:   interval,
		batchSize:  batchSize,
		instanceID: uuid.NewString(),
	}

	// Initialize drainer-specific logger (to stdout and a rotated file)
	if err := d.initDrainerLogger(); err != nil {
		// Fallback to default stdout logger if file logger init fails
		d.logger = log.Default()
		d.logger.Printf("drainer: failed to initialize file logger: %v", err)
	}

	return d
}

// initDrainerLogger configures a logger that writes to both stdout and a rotated file under data/ (or /data)
func (d *QueueDrainer) initDrainerLogger() error {
	// Prefer relative data/ then fallback to /data for containerized environments
	candidates := []string{
		filepath.Join("data"),
		"/data",
	}
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "drainer.log"),
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		mw := io.MultiWriter(os.Stdout, rotator)
		// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
		d.logger = log.New(mw, "drainer ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
		return nil
	}
	return fmt.Errorf("could not create drainer log directory in any candidate location")
}

// Start launches the drain loop in a background goroutine and returns a stop function
func (d *QueueDrainer) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (d *QueueDrainer) runOnce(ctx context.Context) {
	d.publishDepth(ctx)

	level := d.capacity.CurrentLevel(ctx)
	features := businessflow.FeaturesFor(level)
	if features.SubmissionsQueued || !features.SubmissionsEnabled {
		// Still at or past the level that fills the queue; draining now would
		// feed the backlog straight back into an overloaded store.
		return
	}

	acquired, err := d.rc.SetNX(ctx, drainLockKey, d.instanceID, utils.QueueDrainLockTTL).Result()
	if err != nil {
		d.logger.Printf("drainer: lock acquisition failed: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer d.releaseLock(ctx)

	batch, err := d.queue.Drain(ctx, d.batchSize)
	if err != nil {
		d.logger.Printf("drainer: drain failed: %v", err)
		return
	}
	if len(batch) == 0 {
		return
	}
	d.logger.Printf("drainer: replaying %d queued submissions at level %s", len(batch), level)

	processed := 0
	deferred := 0
	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}

		itemCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := d.flow.ProcessQueued(itemCtx, item)
		cancel()
		if err != nil {
			// Transient failure; the item stays queued for the next run.
			deferred++
			middleware.RecordQueueDrained("deferred", 1)
			d.logger.Printf("drainer: queued submission %s deferred: %v", item.Token, err)
			continue
		}

		if err := d.queue.Ack(ctx, item.Token); err != nil {
			// The coordinator treats the redelivery as a no-op.
			d.logger.Printf("drainer: ack failed for %s: %v", item.Token, err)
			continue
		}
		processed++
		middleware.RecordQueueDrained("processed", 1)
	}

	d.logger.Printf("drainer: batch done processed=%d deferred=%d", processed, deferred)
	d.recordDrainAudit(ctx, len(batch), processed, deferred)
	d.publishDepth(ctx)
}

func (d *QueueDrainer) releaseLock(ctx context.Context) {
	if err := d.rc.Del(ctx, drainLockKey).Err(); err != nil {
		d.logger.Printf("drainer: lock release failed: %v", err)
	}
}

func (d *QueueDrainer) publishDepth(ctx context.Context) {
	depth, err := d.queue.Depth(ctx)
	if err != nil {
		d.logger.Printf("drainer: depth read failed: %v", err)
		return
	}
	middleware.SetQueueDepth(float64(depth))
}

func (d *QueueDrainer) recordDrainAudit(ctx context.Context, batch, processed, deferred int) {
	metadata, _ := json.Marshal(map[string]any{
		"batch":     batch,
		"processed": processed,
		"deferred":  deferred,
	})
	desc := fmt.Sprintf("Drained %d of %d queued submissions", processed, batch)

	audit := &models.SubmissionAudit{
		Action:      models.AuditActionQueueDrained,
		Outcome:     utils.ToPtr("drained"),
		Description: &desc,
		Metadata:    metadata,
		Success:     utils.ToPtr(deferred == 0),
		CreatedAt:   utils.UTCNow(),
	}
	if err := d.auditRepo.Save(ctx, audit); err != nil {
		d.logger.Printf("drainer: failed to record drain audit: %v", err)
	}
}
