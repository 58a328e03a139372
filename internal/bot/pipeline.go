package bot

import (
	"context"
	log "log/slog"
	"strings"

	"voxgram/internal/provider"
)

// The voice pipeline runs five stages in a fixed order, each at most once:
// fetch, transcribe, complete, synthesize, transcode+deliver. The first
// three are terminal on failure; the last two degrade to a text reply.

// stageFailure is the typed failure arm of a pipeline stage: the stage name
// for the log and the one user-visible notice for it.
type stageFailure struct {
	stage  string
	notice string
	err    error
}

func (d *Dispatcher) handleVoice(ctx context.Context, logger *log.Logger, ev InboundEvent) {
	if ev.Voice == nil {
		return
	}

	audio, fail := d.fetchVoice(ctx, *ev.Voice)
	if fail != nil {
		d.failStage(ctx, logger, ev.Chat, fail)
		return
	}

	d.typing(ctx, ev.Chat)

	transcript, fail := d.transcribeVoice(ctx, audio, ev.Voice.MIME)
	if fail != nil {
		d.failStage(ctx, logger, ev.Chat, fail)
		return
	}
	audio = nil // only the recognized text travels past this point

	answer, fail := d.completeVoice(ctx, transcript.Text)
	if fail != nil {
		d.failStage(ctx, logger, ev.Chat, fail)
		return
	}

	voice, ok := d.synthesizeVoice(ctx, logger, answer)
	if !ok {
		// Graceful degradation: the user still gets the answer as text.
		d.reply(ctx, logger, ev.Chat, answer)
		return
	}

	if err := d.tg.SendVoice(ctx, ev.Chat, voice, truncateCaption(transcript.Text)); err != nil {
		logger.Error("Voice delivery failed, falling back to text", "err", err)
		d.reply(ctx, logger, ev.Chat, answer)
	}
}

func (d *Dispatcher) failStage(ctx context.Context, logger *log.Logger, chatID int64, fail *stageFailure) {
	logger.Error("Voice pipeline aborted", "stage", fail.stage, "err", fail.err)
	d.reply(ctx, logger, chatID, fail.notice)
}

func (d *Dispatcher) fetchVoice(ctx context.Context, ref VoiceRef) ([]byte, *stageFailure) {
	f, err := d.tg.GetFile(ctx, ref.FileID)
	if err != nil {
		return nil, &stageFailure{stage: "fetch", notice: msgFetchFail, err: err}
	}
	data, err := d.tg.Download(ctx, f.FilePath)
	if err != nil {
		return nil, &stageFailure{stage: "fetch", notice: msgFetchFail, err: err}
	}
	return data, nil
}

func (d *Dispatcher) transcribeVoice(ctx context.Context, audio []byte, mime string) (provider.Transcript, *stageFailure) {
	if mime == "" {
		mime = "audio/ogg" // the platform's voice notes are ogg/opus
	}
	tr, err := d.ai.Transcribe(ctx, audio, attachmentName(mime), mime)
	if err != nil {
		return provider.Transcript{}, &stageFailure{stage: "transcribe", notice: msgSTTFail, err: err}
	}
	return tr, nil
}

// attachmentName picks an upload filename matching the payload's MIME; the
// provider keys format detection partly off the extension.
func attachmentName(mime string) string {
	switch strings.ToLower(mime) {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	}
	return "audio.ogg"
}

func (d *Dispatcher) completeVoice(ctx context.Context, prompt string) (string, *stageFailure) {
	res, err := d.ai.Complete(ctx, prompt, preambleVoice)
	if err != nil {
		return "", &stageFailure{stage: "complete", notice: msgChatFail, err: err}
	}
	if res.Text == "" {
		return msgEmptyAnswer, nil
	}
	return res.Text, nil
}

// synthesizeVoice covers synthesis and transcoding; either failing reports
// not-ok and the caller degrades to text.
func (d *Dispatcher) synthesizeVoice(ctx context.Context, logger *log.Logger, text string) ([]byte, bool) {
	audio, err := d.ai.Synthesize(ctx, text)
	if err != nil {
		logger.Error("Synthesis failed, falling back to text", "err", err)
		return nil, false
	}
	voice, err := d.conv.MP3ToVoice(audio.Bytes)
	if err != nil {
		logger.Error("Transcoding failed, falling back to text", "err", err)
		return nil, false
	}
	return voice, true
}

const captionLimit = 200

func truncateCaption(s string) string {
	r := []rune(s)
	if len(r) <= captionLimit {
		return s
	}
	return string(r[:captionLimit]) + "…"
}
