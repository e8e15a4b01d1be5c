package usecase

import (
	"context"

	"PredServe/internal/domain/models"
	drepo "PredServe/internal/domain/repository"
	mid "PredServe/internal/middleware"
)

// FeedCollector drains the live feature stream into the ingest pipeline,
// reconnecting on stream errors.
type FeedCollector struct {
	stream  drepo.FeatureStream
	pipe    *mid.IngestPipeline
	metrics drepo.Metrics
}

// NewFeedCollector creates a collector over a connected stream.
func NewFeedCollector(stream drepo.FeatureStream, pipe *mid.IngestPipeline, metrics drepo.Metrics) *FeedCollector {
	return &FeedCollector{stream: stream, pipe: pipe, metrics: metrics}
}

// IsConnected reports the stream's connection state.
func (c *FeedCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *FeedCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	vecCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, vecCh, errCh)
	return nil
}

func (c *FeedCollector) consume(ctx context.Context, vecCh <-chan *models.FeatureVector, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case v := <-vecCh:
			if v == nil {
				continue
			}
			_ = c.pipe.Process(ctx, v)
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *FeedCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
