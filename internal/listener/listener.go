package listener

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/errors"
	"backup-sentinel/internal/logging"
	"backup-sentinel/internal/metrics"
	"backup-sentinel/internal/pipeline"
)

// MessageSource delivers backup-ready messages
type MessageSource interface {
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, ackIDs ...string) error
	Nack(ctx context.Context, ackIDs ...string) error
}

// Processor runs one backup request through the pipeline
type Processor interface {
	Process(ctx context.Context, req backup.BackupRequest) (*pipeline.Result, error)
}

// Config tunes the pull loop
type Config struct {
	MaxMessages  int           `mapstructure:"max_messages" yaml:"max_messages"`
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 10
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
}

// Message handling results
const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
)

// Listener pulls messages and hands each to the processor on a bounded pool
// of workers. Each event is processed by exactly one worker.
type Listener struct {
	source     MessageSource
	processor  Processor
	config     Config
	metrics    *metrics.Metrics
	logger     *logging.Logger
	classifier *errors.ErrorClassifier
	now        func() time.Time
}

// New creates a listener
func New(source MessageSource, processor Processor, config Config, m *metrics.Metrics, logger *logging.Logger) *Listener {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Listener{
		source:     source,
		processor:  processor,
		config:     config,
		metrics:    m,
		logger:     logger,
		classifier: errors.NewErrorClassifier(),
		now:        time.Now,
	}
}

// Run pulls until ctx is cancelled. In-flight messages finish before Run
// returns.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.WithField("workers", l.config.Workers).Info("listening for backup requests")
	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := l.source.Receive(ctx, l.config.MaxMessages)
		if err != nil && ctx.Err() == nil {
			l.logPullError(err)
		}
		if len(messages) > 0 {
			// a shutdown signal must not abort events mid-pipeline
			l.HandleBatch(context.WithoutCancel(ctx), messages)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.config.PollInterval):
		}
	}
}

// logPullError warns on transient pull failures and reports the rest as errors
func (l *Listener) logPullError(err error) {
	appErr := l.classifier.ClassifyError(err)
	entry := l.logger.WithField("error_type", string(appErr.Type))
	if appErr.IsRecoverable() {
		entry.Warnf("failed to pull messages, retrying: %v", err)
		return
	}
	entry.Errorf("failed to pull messages: %v", err)
}

// HandleBatch processes messages concurrently and waits for all of them
func (l *Listener) HandleBatch(ctx context.Context, messages []Message) {
	var g errgroup.Group
	g.SetLimit(l.config.Workers)
	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			l.Handle(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

// Handle processes one message and settles it. Malformed payloads, invalid
// requests and processing errors are nacked for redelivery; duplicates and
// processed events are acked.
func (l *Listener) Handle(ctx context.Context, msg Message) string {
	log := l.logger.WithField("message_id", msg.ID)

	received := msg.PublishTime
	if received.IsZero() {
		received = l.now()
	}

	var result string
	req, err := ParseRequest(msg.Data, received)
	switch {
	case err != nil:
		log.Warnf("rejecting malformed backup request: %v", err)
		result = ResultMalformed
	default:
		res, perr := l.processor.Process(ctx, req)
		switch {
		case perr != nil:
			entry := log.WithField("database", req.DatabaseName).
				WithField("error_type", string(errors.GetErrorType(perr))).
				WithField("retryable", backup.IsRetryable(perr) || errors.IsRecoverableError(perr))
			if backup.IsValidation(perr) {
				entry.Warnf("rejecting invalid backup request: %v", perr)
				result = ResultMalformed
				break
			}
			entry.Errorf("backup request could not be processed: %v", perr)
			result = ResultFailed
		case res.Duplicate:
			result = ResultDuplicate
		default:
			log.WithField("backup_id", res.Event.ID).WithField("status", string(res.Event.Status)).
				Info("backup request processed")
			result = ResultProcessed
		}
	}

	// settle even when ctx is already cancelled
	settleCtx := context.WithoutCancel(ctx)
	if result == ResultMalformed || result == ResultFailed {
		err = l.source.Nack(settleCtx, msg.AckID)
	} else {
		err = l.source.Ack(settleCtx, msg.AckID)
	}
	if err != nil {
		log.Warnf("failed to settle message (%s): %v", result, err)
	}

	l.metrics.MessageHandled(result)
	return result
}
