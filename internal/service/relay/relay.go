package relay

import (
	"context"

	"chatrelay/internal/models"
	"chatrelay/internal/session"

	"github.com/rs/zerolog/log"
)

// Completer streams a chat completion for a full transcript.
type Completer interface {
	Stream(ctx context.Context, transcript []models.Message, temperature float32, onFragment func(string) error) (string, error)
}

// ImageService produces one image reference for a prompt.
type ImageService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Runner executes an upstream call on behalf of a session.
type Runner interface {
	Do(ctx context.Context, key string, fn func(context.Context)) error
}

// Recorder archives committed state. Failures are logged, never surfaced.
type Recorder interface {
	RecordMessage(ctx context.Context, sessionID string, msg models.Message) error
	RecordImage(ctx context.Context, sessionID, prompt, url string) error
}

type directRunner struct{}

func (directRunner) Do(ctx context.Context, _ string, fn func(context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn(ctx)
	return nil
}

// commit pushes the session to the mirror and the archive. It runs on a
// context detached from the request so a closing client cannot cut it short.
func commit(ctx context.Context, store *session.Store, recorder Recorder, sess *session.Session, record func(context.Context, Recorder) error) {
	ctx = context.WithoutCancel(ctx)
	store.Persist(ctx, sess)
	if recorder == nil {
		return
	}
	if err := record(ctx, recorder); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID()).Msg("archive write failed")
	}
}
