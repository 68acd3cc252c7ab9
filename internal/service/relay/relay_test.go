package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chatrelay/internal/models"
	"chatrelay/internal/session"
)

const testPrompt = "You are a test assistant."

// scriptedConn replays inbound messages and records outbound frames.
type scriptedConn struct {
	mu       sync.Mutex
	inbound  []string
	readErr  error
	written  []string
	closed   bool
	writeErr error
}

func (c *scriptedConn) ReadText(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		if c.readErr != nil {
			return "", c.readErr
		}
		return "", ErrClientClosed
	}
	msg := c.inbound[0]
	c.inbound = c.inbound[1:]
	return msg, nil
}

func (c *scriptedConn) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, text)
	return nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *scriptedConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

type streamScript struct {
	fragments []string
	err       error // returned after the fragments
}

// fakeCompleter plays one script per call, repeating the last one.
type fakeCompleter struct {
	mu          sync.Mutex
	scripts     []streamScript
	calls       int
	transcripts [][]models.Message
	temps       []float32
}

func (f *fakeCompleter) Stream(ctx context.Context, transcript []models.Message, temperature float32, onFragment func(string) error) (string, error) {
	f.mu.Lock()
	script := f.scripts[min(f.calls, len(f.scripts)-1)]
	f.calls++
	f.transcripts = append(f.transcripts, transcript)
	f.temps = append(f.temps, temperature)
	f.mu.Unlock()

	full := ""
	for _, frag := range script.fragments {
		if err := onFragment(frag); err != nil {
			return "", err
		}
		full += frag
	}
	if script.err != nil {
		return "", script.err
	}
	return full, nil
}

type fakeImages struct {
	url   string
	err   error
	calls int
	last  string
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.last = prompt
	return f.url, f.err
}

type recordedImage struct {
	sessionID, prompt, url string
}

type fakeRecorder struct {
	mu       sync.Mutex
	messages []models.Message
	images   []recordedImage
	err      error
}

func (f *fakeRecorder) RecordMessage(_ context.Context, sessionID string, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.err
}

func (f *fakeRecorder) RecordImage(_ context.Context, sessionID, prompt, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, recordedImage{sessionID, prompt, url})
	return f.err
}

type rejectingRunner struct{ err error }

func (r rejectingRunner) Do(context.Context, string, func(context.Context)) error {
	return r.err
}

func newSession(t *testing.T, store *session.Store, id string) *session.Session {
	t.Helper()
	sess, err := store.GetOrCreate(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess
}

var errUpstream = errors.New("upstream unavailable")

// hangingCompleter never produces a fragment; it returns once ctx expires.
type hangingCompleter struct{}

func (hangingCompleter) Stream(ctx context.Context, _ []models.Message, _ float32, _ func(string) error) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type hangingImages struct{}

func (hangingImages) Generate(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
