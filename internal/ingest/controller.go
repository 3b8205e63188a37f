package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/askrepo/askrepo/internal/metadb"
)

// ProjectStore is the slice of the metadata store the controller needs.
type ProjectStore interface {
	SetStatus(ctx context.Context, id string, status metadb.ProjectStatus) error
}

// Controller owns the project status state machine
// (CREATED -> INDEXING -> READY | ERROR) and supervises asynchronous
// ingestion runs. Failures inside a run are never surfaced to the caller
// that triggered it; they are observable only through the project status
// and the log.
type Controller struct {
	pipeline *Pipeline
	projects ProjectStore
	index    IndexStore
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewController creates a lifecycle controller. timeout bounds each run;
// zero means no deadline.
func NewController(pipeline *Pipeline, projects ProjectStore, index IndexStore, timeout time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		pipeline: pipeline,
		projects: projects,
		index:    index,
		timeout:  timeout,
		logger:   logger,
	}
}

// StartIngestion launches an ingestion run for a project already in
// INDEXING state and returns immediately. The run's outcome is observed
// exactly once: logged here, and published through the status transition.
func (c *Controller) StartIngestion(project *metadb.Project) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runOnce(project)
	}()
}

// Resync re-triggers the full pipeline for an existing project: verify
// ownership, wipe the previous generation's rows, mark the project
// INDEXING, then run asynchronously. Two overlapping resyncs for the same
// project race with undefined final ordering; each run still wipes before
// inserting.
func (c *Controller) Resync(ctx context.Context, project *metadb.Project, callerID string) error {
	if project.OwnerID != callerID {
		return metadb.ErrNotOwner
	}

	if err := c.index.DeleteProject(ctx, project.ID); err != nil {
		return fmt.Errorf("wipe previous generation: %w", err)
	}
	if err := c.projects.SetStatus(ctx, project.ID, metadb.StatusIndexing); err != nil {
		return err
	}

	c.StartIngestion(project)
	return nil
}

// Wait blocks until all in-flight ingestion runs finish. Used on shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// runOnce executes one supervised ingestion run and records its outcome on
// the project row.
func (c *Controller) runOnce(project *metadb.Project) {
	// Detached from the triggering request on purpose; the run outlives it.
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.pipeline.Run(ctx, project)
	if err != nil {
		// Already-inserted rows stay; a partial index may still be useful
		// and the failure is surfaced on the project record.
		c.logger.Error("ingestion run failed", "project", project.ID, "error", err)
		if errors.Is(err, ErrAllBatchesFailed) && result != nil {
			c.logger.Warn("no batch succeeded", "project", project.ID, "batches", result.BatchesTotal)
		}
		if serr := c.projects.SetStatus(context.Background(), project.ID, metadb.StatusError); serr != nil {
			c.logger.Error("failed to record ERROR status", "project", project.ID, "error", serr)
		}
		return
	}

	if serr := c.projects.SetStatus(context.Background(), project.ID, metadb.StatusReady); serr != nil {
		c.logger.Error("failed to record READY status", "project", project.ID, "error", serr)
		return
	}
	c.logger.Info("project ready",
		"project", project.ID,
		"chunks", result.InsertedChunks,
		"failed_batches", result.BatchesFailed,
	)
}
