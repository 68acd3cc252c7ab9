package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatrelay/internal/service/ai"
	"chatrelay/internal/session"
)

var (
	ErrEmptyPrompt       = errors.New("prompt cannot be empty")
	ErrMalformedResponse = errors.New("image service returned no image")
)

// DefaultImageTimeout bounds one image generation.
const DefaultImageTimeout = time.Minute

// ImageRelay forwards one prompt and records the resulting image.
type ImageRelay struct {
	store    *session.Store
	images   ImageService
	runner   Runner
	recorder Recorder
	timeout  time.Duration
}

func NewImageRelay(store *session.Store, images ImageService, runner Runner, recorder Recorder, timeout time.Duration) *ImageRelay {
	if runner == nil {
		runner = directRunner{}
	}
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	return &ImageRelay{
		store:    store,
		images:   images,
		runner:   runner,
		recorder: recorder,
		timeout:  timeout,
	}
}

// Generate returns the URL of the new image. The image log only changes on success.
func (r *ImageRelay) Generate(ctx context.Context, sess *session.Session, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		url    string
		genErr error
	)
	err := r.runner.Do(callCtx, sess.ID(), func(jobCtx context.Context) {
		url, genErr = r.images.Generate(jobCtx, prompt)
	})
	if err == nil {
		err = genErr
	}
	if errors.Is(err, ai.ErrNoImage) {
		return "", ErrMalformedResponse
	}
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return "", ErrMalformedResponse
	}

	sess.AppendImage(url)
	commit(ctx, r.store, r.recorder, sess, func(ctx context.Context, rec Recorder) error {
		return rec.RecordImage(ctx, sess.ID(), prompt, url)
	})
	return url, nil
}
