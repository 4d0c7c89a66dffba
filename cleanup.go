package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scalecode-solutions/mvdocs/store"
	"github.com/sirupsen/logrus"
)

// completedRetention bounds how long finished session ids are remembered.
const completedRetention = time.Hour

const defaultStepTimeout = 30 * time.Second

// Coordinator tears down everything a terminated session owns. Each step
// runs under its own timeout and a failing step never stops the others.
type Coordinator struct {
	pipeline Pipeline
	store    store.Store
	blobs    BlobStore
	registry *Registry
	timeout  time.Duration
	log      *logrus.Entry

	runs      atomic.Int64
	mu        sync.Mutex
	completed map[string]time.Time
}

// NewCoordinator creates a cleanup coordinator.
func NewCoordinator(pipeline Pipeline, db store.Store, blobs BlobStore, registry *Registry, timeout time.Duration, log *logrus.Entry) *Coordinator {
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	return &Coordinator{
		pipeline:  pipeline,
		store:     db,
		blobs:     blobs,
		registry:  registry,
		timeout:   timeout,
		log:       log.WithField("component", "cleanup"),
		completed: make(map[string]time.Time),
	}
}

// Terminate removes the session's index, records, blobs and registry entry.
// A session is torn down at most once.
func (c *Coordinator) Terminate(sessionID string) {
	if !c.claim(sessionID) {
		c.log.WithField("session", shortID(sessionID)).Warn("cleanup already ran")
		return
	}
	c.runs.Add(1)

	log := c.log.WithField("session", shortID(sessionID))
	start := time.Now()
	failed := 0

	if err := c.step("pipeline", func(context.Context) error {
		c.pipeline.Cleanup(sessionID)
		return nil
	}); err != nil {
		failed++
		log.WithError(err).Error("pipeline cleanup failed")
	}

	// Blob names come from the durable records and the registry's copy, so
	// a record lost to an earlier failure still gets its blob removed.
	names := make(map[string]struct{})
	for _, d := range c.registry.Documents(sessionID) {
		names[d.SavedFilename] = struct{}{}
	}

	if err := c.step("list records", func(ctx context.Context) error {
		docs, err := c.store.GetSessionDocuments(ctx, sessionID)
		for _, d := range docs {
			names[d.SavedFilename] = struct{}{}
		}
		return err
	}); err != nil {
		failed++
		log.WithError(err).Error("listing records failed")
	}

	if err := c.step("delete records", func(ctx context.Context) error {
		n, err := c.store.DeleteSessionDocuments(ctx, sessionID)
		if err == nil {
			log.WithField("records", n).Debug("records deleted")
		}
		return err
	}); err != nil {
		failed++
		log.WithError(err).Error("deleting records failed")
	}

	for name := range names {
		if err := c.step("delete blob", func(context.Context) error {
			return c.blobs.Delete(name)
		}); err != nil {
			failed++
			log.WithError(err).WithField("blob", name).Error("deleting blob failed")
		}
	}

	c.registry.Remove(sessionID)

	log.WithFields(logrus.Fields{
		"blobs":    len(names),
		"failed":   failed,
		"duration": time.Since(start),
	}).Info("session cleaned up")
}

// step runs fn with a fresh timeout, converting a panic into an error.
func (c *Coordinator) step(name string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// claim records sessionID as cleaned up, reporting false if it already was.
func (c *Coordinator) claim(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, done := c.completed[sessionID]; done {
		return false
	}
	for id, at := range c.completed {
		if now.Sub(at) > completedRetention {
			delete(c.completed, id)
		}
	}
	c.completed[sessionID] = now
	return true
}

// Completed reports whether sessionID has been cleaned up recently.
func (c *Coordinator) Completed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.completed[sessionID]
	return ok
}

// Runs returns how many cleanups have executed.
func (c *Coordinator) Runs() int64 {
	return c.runs.Load()
}
