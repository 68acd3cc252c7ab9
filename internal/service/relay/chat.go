package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/session"

	"github.com/rs/zerolog/log"
)

// ErrClientClosed is returned by Conn.ReadText when the peer closed the
// connection normally. No error frame is sent in that case.
var ErrClientClosed = errors.New("client closed connection")

// DefaultChatTimeout bounds one upstream completion.
const DefaultChatTimeout = 2 * time.Minute

// State of one chat connection.
type State int

const (
	StateOpen State = iota
	StateForwarding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateForwarding:
		return "forwarding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is a bidirectional text channel to one browser.
type Conn interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(text string) error
	Close() error
}

type ChatConfig struct {
	Temperature float32
	Timeout     time.Duration
}

// ChatRelay drives the chat state machine of every connection.
type ChatRelay struct {
	store     *session.Store
	completer Completer
	runner    Runner
	recorder  Recorder
	cfg       ChatConfig
}

// NewChatRelay builds the relay. runner and recorder may be nil: calls then run
// on the connection goroutine and nothing is archived.
func NewChatRelay(store *session.Store, completer Completer, runner Runner, recorder Recorder, cfg ChatConfig) *ChatRelay {
	if runner == nil {
		runner = directRunner{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultChatTimeout
	}
	return &ChatRelay{
		store:     store,
		completer: completer,
		runner:    runner,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// Serve runs the connection until it closes. The returned error is the reason
// the connection left the open state, or nil for a normal client close.
func (r *ChatRelay) Serve(ctx context.Context, conn Conn, sessionID string) error {
	defer conn.Close()

	sess, err := r.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		r.fail(conn, sessionID, err)
		return err
	}

	state := StateOpen
	for {
		text, err := conn.ReadText(ctx)
		if err != nil {
			state = StateClosed
			if errors.Is(err, ErrClientClosed) {
				log.Debug().Str("session_id", sessionID).Stringer("state", state).Msg("client closed chat")
				return nil
			}
			r.fail(conn, sessionID, err)
			return err
		}

		state = StateForwarding
		if err := r.turn(ctx, conn, sess, text); err != nil {
			state = StateClosed
			log.Warn().Err(err).Str("session_id", sessionID).Stringer("state", state).Msg("chat turn failed")
			r.fail(conn, sessionID, err)
			return err
		}
		state = StateOpen
	}
}

// turn commits the user message, streams the reply and commits it on success.
// A failed stream leaves only the user message committed.
func (r *ChatRelay) turn(ctx context.Context, conn Conn, sess *session.Session, text string) error {
	unlock := sess.LockTurn()
	defer unlock()

	transcript := sess.AppendUser(text)
	userMsg := models.Message{Role: models.RoleUser, Content: text}
	commit(ctx, r.store, r.recorder, sess, func(ctx context.Context, rec Recorder) error {
		return rec.RecordMessage(ctx, sess.ID(), userMsg)
	})

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var (
		reply     string
		streamErr error
	)
	err := r.runner.Do(callCtx, sess.ID(), func(jobCtx context.Context) {
		reply, streamErr = r.completer.Stream(jobCtx, transcript, r.cfg.Temperature, conn.WriteText)
	})
	if err == nil {
		err = streamErr
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("completion timed out after %s", r.cfg.Timeout)
		}
		return err
	}

	sess.AppendAssistant(reply)
	assistantMsg := models.Message{Role: models.RoleAssistant, Content: reply}
	commit(ctx, r.store, r.recorder, sess, func(ctx context.Context, rec Recorder) error {
		return rec.RecordMessage(ctx, sess.ID(), assistantMsg)
	})
	return nil
}

// fail sends one best-effort error frame before the connection closes.
func (r *ChatRelay) fail(conn Conn, sessionID string, cause error) {
	if err := conn.WriteText("Error: " + cause.Error()); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("error frame not delivered")
	}
}
