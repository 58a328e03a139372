package bot

import (
	"strings"
	"time"

	"voxgram/internal/telegram"
)

type EventKind int

const (
	KindUnknown EventKind = iota
	KindCommand
	KindText
	KindVoice
)

func (k EventKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	}
	return "unknown"
}

// VoiceRef points at a voice payload held by the platform; the bytes are
// fetched lazily by the pipeline's first stage.
type VoiceRef struct {
	FileID   string
	MIME     string
	Duration int
}

// InboundEvent is one classified platform delivery. It is immutable and
// discarded after handling.
type InboundEvent struct {
	Sender int64
	Chat   int64
	Kind   EventKind
	Text   string
	Voice  *VoiceRef
	At     time.Time
}

// classify maps a raw update onto the closed event variant, in declared
// order: command, text, voice/audio, unknown.
func classify(u *telegram.Update) InboundEvent {
	ev := InboundEvent{Kind: KindUnknown, At: time.Now()}
	if u == nil || u.Message == nil {
		return ev
	}

	msg := u.Message
	ev.Chat = msg.Chat.ID
	if msg.From != nil {
		ev.Sender = msg.From.ID
	}
	if msg.Date > 0 {
		ev.At = time.Unix(msg.Date, 0)
	}

	switch {
	case strings.HasPrefix(msg.Text, "/"):
		ev.Kind = KindCommand
		ev.Text = msg.Text
	case msg.Text != "":
		ev.Kind = KindText
		ev.Text = msg.Text
	case msg.Voice != nil:
		ev.Kind = KindVoice
		ev.Voice = &VoiceRef{FileID: msg.Voice.FileID, MIME: msg.Voice.MimeType, Duration: msg.Voice.Duration}
	case msg.Audio != nil:
		ev.Kind = KindVoice
		ev.Voice = &VoiceRef{FileID: msg.Audio.FileID, MIME: msg.Audio.MimeType, Duration: msg.Audio.Duration}
	}
	return ev
}

// splitCommand splits "/image@somebot a prompt" into "image" and "a prompt".
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimPrefix(text, "/")
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmd, args = text[:i], strings.TrimSpace(text[i+1:])
	} else {
		cmd = text
	}
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, args
}
