package autoreply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textdesk/textdesk/internal/ingest"
	"github.com/textdesk/textdesk/internal/responder"
	"github.com/textdesk/textdesk/internal/store"
)

type fakeHistory struct {
	messages []store.Message
	err      error
}

func (f *fakeHistory) ListMessages(_ context.Context, _ string, _ int) ([]store.Message, error) {
	return f.messages, f.err
}

type fakeGenerator struct {
	reply string
	err   error

	mu   sync.Mutex
	reqs []responder.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req responder.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMessenger) Send(_ context.Context, to, body string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.sent = append(m.sent, to+": "+body)
	m.mu.Unlock()
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	messages []ingest.InboundMessage
	senders  []store.SenderType
	err      error
}

func (f *fakeRecorder) Ingest(_ context.Context, msg ingest.InboundMessage, sender store.SenderType) (store.IngestResult, error) {
	if f.err != nil {
		return store.IngestResult{}, f.err
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.senders = append(f.senders, sender)
	f.mu.Unlock()
	return store.IngestResult{}, nil
}

type fakePhotos struct {
	data      []byte
	mediaType string
	err       error
}

func (f *fakePhotos) ReadImage(context.Context, string) ([]byte, string, error) {
	return f.data, f.mediaType, f.err
}

func queued(t *testing.T, job ReplyJob) queueMessage {
	t.Helper()
	_, body, err := encodeJob(job)
	require.NoError(t, err)
	return queueMessage{ID: "m1", Body: body, ReceiptHandle: "r1"}
}

func newTestWorker(t *testing.T, gen *fakeGenerator, msgr *recordingMessenger, rec *fakeRecorder, history *fakeHistory, opts ...WorkerOption) *Worker {
	t.Helper()
	settings := &fakeSettings{settings: store.Settings{
		AutoReplyEnabled:   true,
		BusinessHoursStart: 0,
		BusinessHoursEnd:   24,
		CustomInstructions: "Keep answers short.",
	}}
	gate := NewInflightGate(nil, time.Minute, nil)
	return NewWorker(NewMemoryQueue(8), gate, settings, history, gen, msgr, rec, nil, opts...)
}

func TestWorkerRepliesAndRecords(t *testing.T) {
	history := &fakeHistory{messages: []store.Message{
		{SenderType: store.SenderCustomer, Body: "Hi, are you open?"},
		{SenderType: store.SenderManual, Body: "We are! Until 5."},
		{SenderType: store.SenderCustomer, Body: "Can I come at 4?"},
	}}
	gen := &fakeGenerator{reply: "Absolutely, see you at 4!"}
	msgr := &recordingMessenger{}
	rec := &fakeRecorder{}
	w := newTestWorker(t, gen, msgr, rec, history)

	w.handleMessage(context.Background(), queued(t, ReplyJob{
		Phone:       "+15551230000",
		MessageText: "Can I come at 4?",
		ReceivedAt:  time.Now(),
	}))

	require.Len(t, msgr.sent, 1)
	assert.Equal(t, "+15551230000: Absolutely, see you at 4!", msgr.sent[0])

	require.Len(t, gen.reqs, 1)
	req := gen.reqs[0]
	require.Len(t, req.History, 3)
	assert.Equal(t, "Customer", req.History[0].SenderLabel)
	assert.Equal(t, "You", req.History[1].SenderLabel)
	assert.Equal(t, "Keep answers short.", req.Instructions)

	require.Len(t, rec.messages, 1)
	assert.Equal(t, store.SenderAI, rec.senders[0])
	assert.Equal(t, "+15551230000", rec.messages[0].Sender)
	assert.Equal(t, "Absolutely, see you at 4!", rec.messages[0].Text)

	// Marker is released once the attempt finishes.
	assert.True(t, w.gate.Acquire(context.Background(), "+15551230000"))
}

func TestWorkerIncludesPhoto(t *testing.T) {
	gen := &fakeGenerator{reply: "Nice photo!"}
	msgr := &recordingMessenger{}
	w := newTestWorker(t, gen, msgr, &fakeRecorder{}, &fakeHistory{},
		WithPhotoReader(&fakePhotos{data: []byte{0xFF, 0xD8}, mediaType: "image/jpeg"}))

	w.handleMessage(context.Background(), queued(t, ReplyJob{
		Phone:       "+15551230000",
		MessageText: "[Photo]",
		PhotoPath:   "media/2025/06/03/abc.jpg",
	}))

	require.Len(t, gen.reqs, 1)
	assert.Equal(t, []byte{0xFF, 0xD8}, gen.reqs[0].Photo)
	assert.Equal(t, "image/jpeg", gen.reqs[0].PhotoMediaType)
	assert.Len(t, msgr.sent, 1)
}

func TestWorkerPhotoReadFailureDegradesToText(t *testing.T) {
	gen := &fakeGenerator{reply: "Got your message!"}
	msgr := &recordingMessenger{}
	w := newTestWorker(t, gen, msgr, &fakeRecorder{}, &fakeHistory{},
		WithPhotoReader(&fakePhotos{err: errors.New("object gone")}))

	w.handleMessage(context.Background(), queued(t, ReplyJob{
		Phone:       "+15551230000",
		MessageText: "[Photo]",
		PhotoPath:   "media/2025/06/03/abc.jpg",
	}))

	require.Len(t, gen.reqs, 1)
	assert.Empty(t, gen.reqs[0].Photo)
	assert.Len(t, msgr.sent, 1)
}

func TestWorkerGenerateFailureNotifiesOperator(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model timeout")}
	msgr := &recordingMessenger{}
	rec := &fakeRecorder{}
	notifier := &recordingNotifier{}
	w := newTestWorker(t, gen, msgr, rec, &fakeHistory{}, WithFailureNotifier(notifier))

	w.handleMessage(context.Background(), queued(t, ReplyJob{
		Phone:       "+15551230000",
		MessageText: "hello?",
	}))

	assert.Empty(t, msgr.sent)
	assert.Empty(t, rec.messages)
	require.Len(t, notifier.failures, 1)
	assert.Equal(t, "+15551230000", notifier.failures[0])

	// A failed attempt still releases the marker.
	assert.True(t, w.gate.Acquire(context.Background(), "+15551230000"))
}

func TestWorkerSendFailureNotifiesOperator(t *testing.T) {
	gen := &fakeGenerator{reply: "hi"}
	msgr := &recordingMessenger{err: errors.New("carrier 503")}
	rec := &fakeRecorder{}
	notifier := &recordingNotifier{}
	w := newTestWorker(t, gen, msgr, rec, &fakeHistory{}, WithFailureNotifier(notifier))

	w.handleMessage(context.Background(), queued(t, ReplyJob{Phone: "+15551230000", MessageText: "hi"}))

	assert.Empty(t, rec.messages)
	assert.Len(t, notifier.failures, 1)
}

func TestWorkerCoalescesInflightPhone(t *testing.T) {
	gen := &fakeGenerator{reply: "hi"}
	msgr := &recordingMessenger{}
	w := newTestWorker(t, gen, msgr, &fakeRecorder{}, &fakeHistory{})

	require.True(t, w.gate.Acquire(context.Background(), "+15551230000"))

	w.handleMessage(context.Background(), queued(t, ReplyJob{Phone: "+15551230000", MessageText: "hi"}))
	assert.Empty(t, msgr.sent)

	// A different phone is unaffected.
	w.handleMessage(context.Background(), queued(t, ReplyJob{Phone: "+15559990000", MessageText: "hi"}))
	assert.Len(t, msgr.sent, 1)
}

func TestWorkerRecordFailureDoesNotResend(t *testing.T) {
	gen := &fakeGenerator{reply: "hi"}
	msgr := &recordingMessenger{}
	rec := &fakeRecorder{err: errors.New("db down")}
	notifier := &recordingNotifier{}
	w := newTestWorker(t, gen, msgr, rec, &fakeHistory{}, WithFailureNotifier(notifier))

	w.handleMessage(context.Background(), queued(t, ReplyJob{Phone: "+15551230000", MessageText: "hi"}))

	assert.Len(t, msgr.sent, 1)
	assert.Empty(t, notifier.failures)
}

func TestWorkerDrainsQueue(t *testing.T) {
	gen := &fakeGenerator{reply: "on it"}
	msgr := &recordingMessenger{}
	w := newTestWorker(t, gen, msgr, &fakeRecorder{}, &fakeHistory{}, WithWorkerCount(1), WithReceiveWaitSeconds(0))

	_, body, err := encodeJob(ReplyJob{Phone: "+15551230000", MessageText: "hi"})
	require.NoError(t, err)
	require.NoError(t, w.queue.Send(context.Background(), body))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		msgr.mu.Lock()
		n := len(msgr.sent)
		msgr.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never processed the job")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	w.Wait()
}
