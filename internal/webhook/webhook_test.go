package webhook

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/invoice"
	"intake/internal/media"
	"intake/internal/whatsapp"
	"intake/pkg/models"
	"intake/pkg/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDownloader struct {
	media *whatsapp.Media
	err   error
}

func (f *fakeDownloader) DownloadMedia(_ context.Context, mediaID string) (*whatsapp.Media, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := *f.media
	m.ID = mediaID
	return &m, nil
}

type fakeProcessor struct {
	extraction invoice.Extraction
	err        error
	mimeTypes  []string
}

func (f *fakeProcessor) Process(_ context.Context, _ []byte, mimeType string) (invoice.Extraction, error) {
	f.mimeTypes = append(f.mimeTypes, mimeType)
	return f.extraction, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	entries []services.InvoiceEntry
	ctxErrs []error
	err     error
}

func (f *fakeSink) Save(ctx context.Context, entry services.InvoiceEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.entries = append(f.entries, entry)
	return f.err
}

type sentText struct {
	phoneNumberID, to, body string
}

type fakeReplier struct {
	mu      sync.Mutex
	sent    []sentText
	ctxErrs []error
	err     error
}

func (f *fakeReplier) SendText(ctx context.Context, phoneNumberID, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.sent = append(f.sent, sentText{phoneNumberID, to, body})
	return f.err
}

// slowProcessor blocks until its context ends, like an analysis call that
// runs out of time.
type slowProcessor struct{}

func (slowProcessor) Process(ctx context.Context, _ []byte, _ string) (invoice.Extraction, error) {
	<-ctx.Done()
	return invoice.Extraction{}, ctx.Err()
}

func testImage(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	img := imaging.New(64, 32, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func inboundImage() whatsapp.InboundImage {
	return whatsapp.InboundImage{
		PhoneNumberID: "PHONE_ID",
		Message: whatsapp.Message{
			From:      "15551234567",
			ID:        "wamid.1",
			Timestamp: "1714636800",
			Type:      whatsapp.MessageTypeImage,
			Image:     &whatsapp.MediaRef{ID: "MEDIA_1", MIMEType: "image/png"},
		},
	}
}

func acmeExtraction() invoice.Extraction {
	amount := 99.9
	return invoice.Extraction{Record: models.InvoiceRecord{
		Supplier:    "Acme Corp",
		Date:        "2024-03-12",
		TotalAmount: &amount,
		Currency:    "EUR",
	}}
}

type fixture struct {
	downloader *fakeDownloader
	processor  *fakeProcessor
	sink       *fakeSink
	replier    *fakeReplier
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		downloader: &fakeDownloader{media: &whatsapp.Media{MIMEType: "image/png", Content: testImage(t)}},
		processor:  &fakeProcessor{extraction: acmeExtraction()},
		sink:       &fakeSink{},
		replier:    &fakeReplier{},
	}
}

func (f *fixture) dispatcher(config DispatcherConfig) *Dispatcher {
	if config.ReplyMessage == "" {
		config.ReplyMessage = "received"
	}
	return NewDispatcher(f.downloader, f.processor, f.sink, f.replier, config)
}

func TestDispatcher_Handle_Success(t *testing.T) {
	f := newFixture(t)

	outcome := f.dispatcher(DispatcherConfig{}).Handle(context.Background(), inboundImage())

	assert.Equal(t, StageDone, outcome.Stage)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, "Acme Corp", outcome.Record.Supplier)
	assert.Equal(t, []string{"image/jpeg"}, f.processor.mimeTypes)

	require.Len(t, f.sink.entries, 1)
	entry := f.sink.entries[0]
	assert.Equal(t, outcome.EntryID, entry.ID)
	assert.Equal(t, "15551234567", entry.Sender)
	assert.Equal(t, "wamid.1", entry.MessageID)
	assert.Equal(t, "MEDIA_1", entry.MediaID)
	assert.Equal(t, time.Unix(1714636800, 0).UTC(), entry.ReceivedAt)

	require.Len(t, f.replier.sent, 1)
	assert.Equal(t, sentText{"PHONE_ID", "15551234567", "received"}, f.replier.sent[0])
}

func TestDispatcher_Handle_DownloadFailureStops(t *testing.T) {
	f := newFixture(t)
	f.downloader.err = whatsapp.ErrNoDownloadURL

	outcome := f.dispatcher(DispatcherConfig{}).Handle(context.Background(), inboundImage())

	assert.Equal(t, StageDownload, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, whatsapp.ErrNoDownloadURL)
	assert.Empty(t, f.processor.mimeTypes)
	assert.Empty(t, f.sink.entries)
	assert.Empty(t, f.replier.sent)
}

func TestDispatcher_Handle_PrepareFailureStops(t *testing.T) {
	f := newFixture(t)
	f.downloader.media = &whatsapp.Media{MIMEType: "image/png", Content: nil}

	outcome := f.dispatcher(DispatcherConfig{}).Handle(context.Background(), inboundImage())

	assert.Equal(t, StagePrepare, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, media.ErrEmptyMedia)
	assert.Empty(t, f.sink.entries)
	assert.Empty(t, f.replier.sent)
}

func TestDispatcher_Handle_AnalysisFailureSavesEmptyRecord(t *testing.T) {
	f := newFixture(t)
	f.processor.err = invoice.ErrQuotaExceeded

	outcome := f.dispatcher(DispatcherConfig{}).Handle(context.Background(), inboundImage())

	assert.Equal(t, StageDone, outcome.Stage)
	assert.ErrorIs(t, outcome.AnalyzeErr, invoice.ErrQuotaExceeded)
	require.Len(t, f.sink.entries, 1)
	assert.True(t, f.sink.entries[0].Record.IsEmpty())
	assert.Len(t, f.replier.sent, 1)
}

func TestDispatcher_Handle_AnalysisTimeoutStillSavesAndReplies(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.downloader, slowProcessor{}, f.sink, f.replier, DispatcherConfig{
		ProcessTimeout:  50 * time.Millisecond,
		DeliveryTimeout: 5 * time.Second,
		ReplyMessage:    "received",
	})

	outcome := d.Handle(context.Background(), inboundImage())

	assert.Equal(t, StageDone, outcome.Stage)
	assert.ErrorIs(t, outcome.AnalyzeErr, context.DeadlineExceeded)
	assert.NoError(t, outcome.SaveErr)
	assert.NoError(t, outcome.ReplyErr)

	assert.Equal(t, []error{nil}, f.sink.ctxErrs)
	assert.Equal(t, []error{nil}, f.replier.ctxErrs)
	require.Len(t, f.sink.entries, 1)
	assert.True(t, f.sink.entries[0].Record.IsEmpty())
	assert.Len(t, f.replier.sent, 1)
}

func TestDispatcher_Handle_SaveFailureStillReplies(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("sheet unavailable")

	outcome := f.dispatcher(DispatcherConfig{}).Handle(context.Background(), inboundImage())

	assert.Equal(t, StageDone, outcome.Stage)
	assert.EqualError(t, outcome.SaveErr, "sheet unavailable")
	assert.Len(t, f.replier.sent, 1)
}

func TestDispatcher_Handle_ReplyFailureReported(t *testing.T) {
	f := newFixture(t)
	f.replier.err = whatsapp.ErrMissingToken

	outcome := f.dispatcher(DispatcherConfig{}).Handle(context.Background(), inboundImage())

	assert.Equal(t, StageDone, outcome.Stage)
	assert.ErrorIs(t, outcome.ReplyErr, whatsapp.ErrMissingToken)
	assert.Len(t, f.sink.entries, 1)
}

func TestDispatcher_WorkerPool(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher(DispatcherConfig{Workers: 3, QueueSize: 10})

	var mu sync.Mutex
	var outcomes []Outcome
	d.OnOutcome(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	d.Start(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(inboundImage()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Len(t, outcomes, 5)
	assert.Len(t, f.sink.entries, 5)
	assert.ErrorIs(t, d.Submit(inboundImage()), ErrStopped)
	assert.NoError(t, d.Stop(ctx), "stopping twice is allowed")
}

func TestDispatcher_SubmitQueueFull(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher(DispatcherConfig{Workers: 1, QueueSize: 1})

	// Not started, so nothing drains the queue
	require.NoError(t, d.Submit(inboundImage()))
	assert.ErrorIs(t, d.Submit(inboundImage()), ErrQueueFull)
}

type recordingSubmitter struct {
	submitted []whatsapp.InboundImage
	err       error
}

func (r *recordingSubmitter) Submit(img whatsapp.InboundImage) error {
	r.submitted = append(r.submitted, img)
	return r.err
}

const imagePayload = `{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":{
"messaging_product":"whatsapp","metadata":{"phone_number_id":"PHONE_ID"},
"messages":[{"from":"15551234567","id":"wamid.1","timestamp":"1714636800","type":"image","image":{"id":"MEDIA_1"}}]}}]}]}`

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_Verify(t *testing.T) {
	router := NewRouter(RouterConfig{VerifyToken: "verify-me"}, &recordingSubmitter{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1158201444", w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_Receive(t *testing.T) {
	submitter := &recordingSubmitter{}
	router := NewRouter(RouterConfig{}, submitter)

	w := serve(router, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(imagePayload)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())

	require.Len(t, submitter.submitted, 1)
	assert.Equal(t, "PHONE_ID", submitter.submitted[0].PhoneNumberID)
	assert.Equal(t, "MEDIA_1", submitter.submitted[0].Message.MediaID())
}

func TestRouter_Receive_MalformedPayloadAcknowledged(t *testing.T) {
	submitter := &recordingSubmitter{}
	router := NewRouter(RouterConfig{}, submitter)

	w := serve(router, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())
	assert.Empty(t, submitter.submitted)
}

func TestRouter_Receive_QueueFullStillAcknowledged(t *testing.T) {
	submitter := &recordingSubmitter{err: ErrQueueFull}
	router := NewRouter(RouterConfig{}, submitter)

	w := serve(router, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(imagePayload)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_Receive_Signature(t *testing.T) {
	submitter := &recordingSubmitter{}
	router := NewRouter(RouterConfig{AppSecret: "app-secret"}, submitter)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(imagePayload))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(imagePayload), "app-secret"))
	w := serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, submitter.submitted, 1)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(imagePayload))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(imagePayload), "wrong"))
	w = serve(router, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Len(t, submitter.submitted, 1)
}

func TestRouter_Receive_OversizedBody(t *testing.T) {
	submitter := &recordingSubmitter{}
	router := NewRouter(RouterConfig{AppSecret: "app-secret"}, submitter)

	body := imagePayload + strings.Repeat(" ", maxPayloadBytes)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(body), "app-secret"))

	w := serve(router, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, submitter.submitted)
}

func TestRouter_Receive_BodyAtLimitAccepted(t *testing.T) {
	submitter := &recordingSubmitter{}
	router := NewRouter(RouterConfig{}, submitter)

	body := imagePayload + strings.Repeat(" ", maxPayloadBytes-len(imagePayload))
	w := serve(router, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, submitter.submitted, 1)
}

func TestRouter_Healthz(t *testing.T) {
	w := serve(NewRouter(RouterConfig{}, &recordingSubmitter{}), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
