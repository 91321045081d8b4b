// Package webhook receives WhatsApp webhook calls and processes invoice images
// in the background.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"intake/internal/invoice"
	"intake/internal/logger"
	"intake/internal/media"
	"intake/internal/whatsapp"
	"intake/pkg/models"
	"intake/pkg/services"
)

// Processing stages, in order.
const (
	StageDownload = "download"
	StagePrepare  = "prepare"
	StageAnalyze  = "analyze"
	StageSave     = "save"
	StageReply    = "reply"
	StageDone     = "done"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("dispatch queue is full")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("dispatcher stopped")
)

// MediaDownloader fetches WhatsApp media by ID.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string) (*whatsapp.Media, error)
}

// Replier sends a text message back to the sender.
type Replier interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) error
}

// InvoiceProcessor extracts an invoice record from document bytes.
type InvoiceProcessor interface {
	Process(ctx context.Context, content []byte, mimeType string) (invoice.Extraction, error)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration

	// DeliveryTimeout bounds saving and replying. It starts after analysis so
	// a slow analysis cannot leave the empty record unsaved.
	DeliveryTimeout time.Duration
	ReplyMessage    string
	Media           media.Options
}

// Outcome reports how far one message got.
// Stage is StageDone on success, otherwise the stage that stopped processing.
// Save and reply failures do not stop processing and are reported in SaveErr
// and ReplyErr.
type Outcome struct {
	MessageID  string
	Stage      string
	Record     models.InvoiceRecord
	EntryID    string
	Err        error
	AnalyzeErr error
	SaveErr    error
	ReplyErr   error
}

// Dispatcher runs image messages through download, preparation, extraction,
// persistence and reply.
type Dispatcher struct {
	downloader MediaDownloader
	processor  InvoiceProcessor
	sink       services.RecordSink
	replier    Replier
	config     DispatcherConfig
	log        zerolog.Logger

	mu      sync.RWMutex
	jobs    chan whatsapp.InboundImage
	stopped bool
	wg      sync.WaitGroup

	onOutcome func(Outcome)
}

// NewDispatcher creates a Dispatcher. Call Start before Submit.
func NewDispatcher(downloader MediaDownloader, processor InvoiceProcessor, sink services.RecordSink, replier Replier, config DispatcherConfig) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = 2 * time.Minute
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 30 * time.Second
	}

	return &Dispatcher{
		downloader: downloader,
		processor:  processor,
		sink:       sink,
		replier:    replier,
		config:     config,
		log:        logger.WithComponent("dispatcher"),
		jobs:       make(chan whatsapp.InboundImage, config.QueueSize),
	}
}

// OnOutcome registers a callback invoked by workers after each message.
// It must be set before Start.
func (d *Dispatcher) OnOutcome(fn func(Outcome)) {
	d.onOutcome = fn
}

// Start launches the worker pool. Workers stop when Stop is called; ctx is
// the parent of every per-message context.
func (d *Dispatcher) Start(ctx context.Context) {
	for w := 0; w < d.config.Workers; w++ {
		d.wg.Add(1)
		go func(workerID int) {
			defer d.wg.Done()

			for img := range d.jobs {
				d.log.Debug().
					Int("worker", workerID).
					Str("message_id", img.Message.ID).
					Msg("Worker processing message")

				outcome := d.Handle(ctx, img)
				if d.onOutcome != nil {
					d.onOutcome(outcome)
				}
			}
		}(w)
	}

	d.log.Info().
		Int("workers", d.config.Workers).
		Int("queue_size", d.config.QueueSize).
		Msg("Dispatcher started")
}

// Submit queues a message without blocking.
func (d *Dispatcher) Submit(img whatsapp.InboundImage) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}

	select {
	case d.jobs <- img:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new messages and waits for queued ones to finish or ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("Stop: waiting for workers: %w", ctx.Err())
	}
}

// Handle processes one image message synchronously.
//
// A failed download or preparation ends processing without saving or
// replying. A failed analysis is recorded as an empty invoice record. A failed
// save is logged and the sender still gets a reply.
func (d *Dispatcher) Handle(ctx context.Context, img whatsapp.InboundImage) Outcome {
	msg := img.Message
	log := d.log.With().
		Str("message_id", msg.ID).
		Str("sender", msg.From).
		Str("media_id", msg.MediaID()).
		Logger()

	processCtx, cancel := context.WithTimeout(ctx, d.config.ProcessTimeout)
	defer cancel()

	outcome := Outcome{MessageID: msg.ID, Record: models.EmptyInvoiceRecord()}

	outcome.Stage = StageDownload
	downloaded, err := d.downloader.DownloadMedia(processCtx, msg.MediaID())
	if err != nil {
		outcome.Err = err
		log.Error().Err(err).Msg("Failed to download media")
		return outcome
	}

	outcome.Stage = StagePrepare
	declared := downloaded.MIMEType
	if declared == "" && msg.Image != nil {
		declared = msg.Image.MIMEType
	}
	prepared, err := media.Prepare(downloaded.Content, declared, d.config.Media)
	if err != nil {
		outcome.Err = err
		log.Error().Err(err).Msg("Failed to prepare media")
		return outcome
	}

	outcome.Stage = StageAnalyze
	extraction, err := d.processor.Process(processCtx, prepared.Content, prepared.MIMEType)
	if err != nil {
		outcome.AnalyzeErr = err
		log.Error().Err(err).Msg("Document analysis failed, saving empty record")
	} else {
		outcome.Record = extraction.Record
	}

	deliveryCtx, cancelDelivery := context.WithTimeout(ctx, d.config.DeliveryTimeout)
	defer cancelDelivery()

	outcome.Stage = StageSave
	entry := services.NewInvoiceEntry(outcome.Record, msg.From, msg.ID, msg.MediaID(), messageTime(msg.Timestamp))
	outcome.EntryID = entry.ID
	if err := d.sink.Save(deliveryCtx, entry); err != nil {
		outcome.SaveErr = err
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to save invoice entry")
	}

	outcome.Stage = StageReply
	if err := d.replier.SendText(deliveryCtx, img.PhoneNumberID, msg.From, d.config.ReplyMessage); err != nil {
		outcome.ReplyErr = err
		log.Error().Err(err).Msg("Failed to send reply")
	}

	outcome.Stage = StageDone
	log.Info().
		Str("entry_id", entry.ID).
		Bool("saved", outcome.SaveErr == nil).
		Bool("replied", outcome.ReplyErr == nil).
		Msg("Invoice message processed")
	return outcome
}

// messageTime parses a WhatsApp unix-seconds timestamp. Invalid values yield
// the zero time, which NewInvoiceEntry replaces with the current time.
func messageTime(timestamp string) time.Time {
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}
