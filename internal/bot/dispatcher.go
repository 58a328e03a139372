package bot

import (
	"context"
	"encoding/json"
	log "log/slog"
	"net/http"

	"github.com/google/uuid"

	"voxgram/internal/access"
	"voxgram/internal/provider"
	"voxgram/internal/telegram"
)

// Narrow views of the collaborators the dispatcher drives. Satisfied by
// *telegram.Client, *provider.Client and audioconv.Converter; tests inject
// fakes.
type platform interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error
	SendVoice(ctx context.Context, chatID int64, voice []byte, caption string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	GetFile(ctx context.Context, fileID string) (telegram.File, error)
	Download(ctx context.Context, filePath string) ([]byte, error)
}

type ai interface {
	Transcribe(ctx context.Context, audio []byte, name, mime string) (provider.Transcript, error)
	Complete(ctx context.Context, prompt, preamble string) (provider.Completion, error)
	Synthesize(ctx context.Context, text string) (provider.SynthesizedAudio, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type transcoder interface {
	MP3ToVoice(mp3 []byte) ([]byte, error)
}

// Dispatcher terminates the webhook endpoint: it parses each delivery into
// an InboundEvent, applies the access gate and hands the event to exactly
// one handler. Every delivery is acknowledged with 200 so the platform does
// not redeliver, whatever the handler outcome.
type Dispatcher struct {
	tg   platform
	ai   ai
	gate *access.Gate
	conv transcoder
}

func NewDispatcher(tg platform, ai ai, gate *access.Gate, conv transcoder) *Dispatcher {
	return &Dispatcher{tg: tg, ai: ai, gate: gate, conv: conv}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		// Still ack: a malformed body will not get better on redelivery.
		log.Warn("Dropping malformed update", "err", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := classify(&upd)
	logger := log.With("event", uuid.NewString(), "kind", ev.Kind.String(), "sender", ev.Sender)

	// Ack first: once the platform has its 2xx it will not redeliver, and a
	// webhook timeout must not cancel a pipeline stage already in flight.
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	d.dispatch(context.WithoutCancel(r.Context()), logger, ev)
}

func (d *Dispatcher) dispatch(ctx context.Context, logger *log.Logger, ev InboundEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Handler panicked", "panic", rec)
			d.reply(ctx, logger, ev.Chat, msgInternalError)
		}
	}()

	if ev.Kind == KindUnknown {
		logger.Debug("Ignoring unclassified event")
		return
	}

	if !d.gate.Allowed(ev.Sender) {
		logger.Info("Access denied")
		d.reply(ctx, logger, ev.Chat, msgDenied)
		return
	}

	switch ev.Kind {
	case KindCommand:
		d.handleCommand(ctx, logger, ev)
	case KindText:
		d.handleText(ctx, logger, ev)
	case KindVoice:
		d.handleVoice(ctx, logger, ev)
	}
}

// reply sends one user-visible text message; a send failure only gets logged
// because there is nothing further to tell the user with.
func (d *Dispatcher) reply(ctx context.Context, logger *log.Logger, chatID int64, text string) {
	if err := d.tg.SendMessage(ctx, chatID, text); err != nil {
		logger.Error("Failed to send reply", "err", err)
	}
}

// typing is fire-and-forget: the indicator is cosmetic and its failure is
// never observed.
func (d *Dispatcher) typing(ctx context.Context, chatID int64) {
	_ = d.tg.SendChatAction(ctx, chatID, "typing")
}
