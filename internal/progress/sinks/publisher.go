package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/tagops-pipeline/internal/progress"
)

// Publisher pushes notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// StatusMessage is the payload published for each job status change.
type StatusMessage struct {
	JobID  string    `json:"jobId"`
	Stage  string    `json:"stage"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// PublisherSink publishes stage lifecycle events. Page events are skipped.
type PublisherSink struct {
	pub   Publisher
	topic string
}

// NewPublisherSink builds a sink that publishes to topic.
func NewPublisherSink(pub Publisher, topic string) *PublisherSink {
	return &PublisherSink{pub: pub, topic: topic}
}

// Consume publishes each stage event and joins any failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.IsStage() {
			continue
		}
		msg := StatusMessage{
			JobID:  evt.JobID,
			Stage:  string(evt.Stage),
			Status: string(evt.Status),
			Error:  evt.Note,
			At:     evt.TS,
		}
		if _, err := s.pub.Publish(ctx, s.topic, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for job %s: %w", evt.Status, evt.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops the publisher when it supports stopping.
func (s *PublisherSink) Close(context.Context) error {
	if stopper, ok := s.pub.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	return nil
}
