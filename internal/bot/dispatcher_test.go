package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxgram/internal/access"
	"voxgram/internal/provider"
	"voxgram/internal/telegram"
)

type fakePlatform struct {
	messages []string
	photos   []string // captions
	voices   []string // captions
	actions  int

	getFileErr   error
	downloadErr  error
	sendVoiceErr error
	fileData     []byte

	sendCtxErr error // ctx.Err() observed by the last send
}

func (f *fakePlatform) SendMessage(ctx context.Context, _ int64, text string) error {
	f.sendCtxErr = ctx.Err()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakePlatform) SendPhoto(_ context.Context, _ int64, _ []byte, caption string) error {
	f.photos = append(f.photos, caption)
	return nil
}

func (f *fakePlatform) SendVoice(ctx context.Context, _ int64, _ []byte, caption string) error {
	f.sendCtxErr = ctx.Err()
	if f.sendVoiceErr != nil {
		return f.sendVoiceErr
	}
	f.voices = append(f.voices, caption)
	return nil
}

func (f *fakePlatform) SendChatAction(_ context.Context, _ int64, _ string) error {
	f.actions++
	return nil
}

func (f *fakePlatform) GetFile(_ context.Context, fileID string) (telegram.File, error) {
	if f.getFileErr != nil {
		return telegram.File{}, f.getFileErr
	}
	return telegram.File{FileID: fileID, FilePath: "voice/file.oga"}, nil
}

func (f *fakePlatform) Download(_ context.Context, _ string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	if f.fileData != nil {
		return f.fileData, nil
	}
	return []byte("OggS-voice-bytes"), nil
}

type fakeAI struct {
	transcribes int
	completes   int
	synthesizes int
	images      int

	transcript    string
	completion    string
	transcribeErr error
	completeErr   error
	synthesizeErr error
	imageErr      error
	panicOn       string

	transcribedName string
	transcribedMIME string
	synthesized     []string
	onComplete      func() // runs while the completion call is in flight
}

func (f *fakeAI) Transcribe(_ context.Context, _ []byte, name, mime string) (provider.Transcript, error) {
	f.transcribes++
	f.transcribedName = name
	f.transcribedMIME = mime
	if f.panicOn == "transcribe" {
		panic("boom")
	}
	if f.transcribeErr != nil {
		return provider.Transcript{}, f.transcribeErr
	}
	return provider.Transcript{Text: f.transcript}, nil
}

func (f *fakeAI) Complete(ctx context.Context, _, _ string) (provider.Completion, error) {
	f.completes++
	if f.onComplete != nil {
		f.onComplete()
	}
	if err := ctx.Err(); err != nil {
		return provider.Completion{}, err
	}
	if f.completeErr != nil {
		return provider.Completion{}, f.completeErr
	}
	return provider.Completion{Text: f.completion}, nil
}

func (f *fakeAI) Synthesize(ctx context.Context, text string) (provider.SynthesizedAudio, error) {
	f.synthesizes++
	f.synthesized = append(f.synthesized, text)
	if err := ctx.Err(); err != nil {
		return provider.SynthesizedAudio{}, err
	}
	if f.synthesizeErr != nil {
		return provider.SynthesizedAudio{}, f.synthesizeErr
	}
	return provider.SynthesizedAudio{Bytes: []byte("mp3-bytes"), MIME: "audio/mpeg"}, nil
}

func (f *fakeAI) GenerateImage(_ context.Context, _ string) ([]byte, error) {
	f.images++
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return []byte("png"), nil
}

type fakeConv struct {
	err   error
	calls int
}

func (f *fakeConv) MP3ToVoice(_ []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("OggS-opus"), nil
}

func newTestDispatcher(allowed []int64) (*Dispatcher, *fakePlatform, *fakeAI, *fakeConv) {
	tg := &fakePlatform{}
	ai := &fakeAI{transcript: "what is the weather", completion: "sunny all week"}
	conv := &fakeConv{}
	return NewDispatcher(tg, ai, access.NewGate(allowed), conv), tg, ai, conv
}

func post(t *testing.T, d *Dispatcher, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func textUpdate(from int64, text string) string {
	return fmt.Sprintf(`{"update_id":1,"message":{"message_id":2,"from":{"id":%d},"chat":{"id":%d},"text":%q}}`, from, from, text)
}

func voiceUpdate(from int64) string {
	return fmt.Sprintf(`{"update_id":1,"message":{"message_id":2,"from":{"id":%d},"chat":{"id":%d},"voice":{"file_id":"vf1","duration":3,"mime_type":"audio/ogg"}}}`, from, from)
}

func audioUpdate(from int64, mime string) string {
	return fmt.Sprintf(`{"update_id":1,"message":{"message_id":2,"from":{"id":%d},"chat":{"id":%d},"audio":{"file_id":"af1","duration":3,"mime_type":%q}}}`, from, from, mime)
}

func TestDeniedSenderGetsOneNoticeAndNothingElse(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher([]int64{42})

	rec := post(t, d, textUpdate(7, "hello"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{msgDenied}, tg.messages)
	assert.Zero(t, ai.completes)
	assert.Zero(t, ai.transcribes)
	assert.Zero(t, ai.images)
}

func TestTextEventOneCompletionOneReply(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher([]int64{42})

	rec := post(t, d, textUpdate(42, "hello"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ai.completes)
	require.Equal(t, []string{"sunny all week"}, tg.messages)
}

func TestTextCompletionFailure(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.completeErr = errors.New("quota exceeded")

	post(t, d, textUpdate(1, "hello"))

	require.Equal(t, []string{msgTextFail}, tg.messages)
}

func TestEmptyCompletionGetsPlaceholder(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.completion = ""

	post(t, d, textUpdate(1, "hello"))

	require.Equal(t, []string{msgEmptyAnswer}, tg.messages)
}

func TestVoiceHappyPath(t *testing.T) {
	d, tg, ai, conv := newTestDispatcher([]int64{42})

	post(t, d, voiceUpdate(42))

	assert.Equal(t, 1, ai.transcribes)
	assert.Equal(t, 1, ai.completes)
	assert.Equal(t, 1, ai.synthesizes)
	assert.Equal(t, 1, conv.calls)
	require.Len(t, tg.voices, 1)
	assert.Equal(t, "what is the weather", tg.voices[0])
	assert.Empty(t, tg.messages)
}

func TestWebhookTimeoutDoesNotAbortPipeline(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)

	// The platform gives up on the webhook connection while the completion
	// call is in flight; the pipeline must run to the end regardless.
	ctx, cancel := context.WithCancel(context.Background())
	ai.onComplete = cancel

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(voiceUpdate(1))).WithContext(ctx)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ai.completes)
	assert.Equal(t, 1, ai.synthesizes)
	require.Len(t, tg.voices, 1)
	assert.Empty(t, tg.messages)
	assert.NoError(t, tg.sendCtxErr)
}

func TestAckPrecedesHandling(t *testing.T) {
	d, _, ai, _ := newTestDispatcher(nil)

	rec := httptest.NewRecorder()
	ai.onComplete = func() {
		// The 200 must already be on the wire before any provider work.
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, rec.Flushed)
	}

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(textUpdate(1, "hello")))
	d.ServeHTTP(rec, req)

	assert.Equal(t, 1, ai.completes)
}

func TestAudioAttachmentNamedByMIME(t *testing.T) {
	d, _, ai, _ := newTestDispatcher(nil)

	post(t, d, audioUpdate(1, "audio/mpeg"))

	assert.Equal(t, "audio.mp3", ai.transcribedName)
	assert.Equal(t, "audio/mpeg", ai.transcribedMIME)

	post(t, d, voiceUpdate(1))
	assert.Equal(t, "audio.ogg", ai.transcribedName)
}

func TestEmptyCompletionOnVoicePathSynthesizesPlaceholder(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.completion = ""

	post(t, d, voiceUpdate(1))

	require.Equal(t, []string{msgEmptyAnswer}, ai.synthesized)
	require.Len(t, tg.voices, 1)
	assert.Empty(t, tg.messages)
}

func TestVoiceCaptionTruncated(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.transcript = strings.Repeat("щ", 250)

	post(t, d, voiceUpdate(1))

	require.Len(t, tg.voices, 1)
	assert.Equal(t, strings.Repeat("щ", 200)+"…", tg.voices[0])
}

func TestVoiceSynthesizeFailureFallsBackToText(t *testing.T) {
	d, tg, ai, conv := newTestDispatcher(nil)
	ai.synthesizeErr = errors.New("tts down")

	post(t, d, voiceUpdate(1))

	assert.Empty(t, tg.voices)
	require.Equal(t, []string{"sunny all week"}, tg.messages)
	assert.Zero(t, conv.calls)
}

func TestVoiceTranscodeFailureFallsBackToText(t *testing.T) {
	d, tg, _, conv := newTestDispatcher(nil)
	conv.err = errors.New("bad mp3")

	post(t, d, voiceUpdate(1))

	assert.Empty(t, tg.voices)
	require.Equal(t, []string{"sunny all week"}, tg.messages)
}

func TestVoiceSendFailureFallsBackToText(t *testing.T) {
	d, tg, _, _ := newTestDispatcher(nil)
	tg.sendVoiceErr = errors.New("413 too large")

	post(t, d, voiceUpdate(1))

	assert.Empty(t, tg.voices)
	require.Equal(t, []string{"sunny all week"}, tg.messages)
}

func TestVoiceTranscribeFailureIsTerminal(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.transcribeErr = errors.New("unsupported payload")

	// Replaying the same event produces the same notice each time.
	post(t, d, voiceUpdate(1))
	post(t, d, voiceUpdate(1))

	assert.Equal(t, 2, ai.transcribes)
	assert.Zero(t, ai.completes)
	assert.Zero(t, ai.synthesizes)
	require.Equal(t, []string{msgSTTFail, msgSTTFail}, tg.messages)
}

func TestVoiceFetchFailureIsTerminal(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	tg.getFileErr = errors.New("file expired")

	post(t, d, voiceUpdate(1))

	assert.Zero(t, ai.transcribes)
	require.Equal(t, []string{msgFetchFail}, tg.messages)
}

func TestVoiceCompleteFailureIsTerminal(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.completeErr = errors.New("model overloaded")

	post(t, d, voiceUpdate(1))

	assert.Equal(t, 1, ai.transcribes)
	assert.Zero(t, ai.synthesizes)
	require.Equal(t, []string{msgChatFail}, tg.messages)
}

func TestStartAndHelpReplyWithHelp(t *testing.T) {
	d, tg, _, _ := newTestDispatcher(nil)

	post(t, d, textUpdate(1, "/start"))
	post(t, d, textUpdate(1, "/help@voxgram_bot"))

	require.Equal(t, []string{msgHelp, msgHelp}, tg.messages)
}

func TestImageCommand(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)

	post(t, d, textUpdate(1, "/image a red fox"))

	assert.Equal(t, 1, ai.images)
	require.Equal(t, []string{"Промпт: a red fox"}, tg.photos)
	assert.Empty(t, tg.messages)
}

func TestImageCommandWithoutPrompt(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)

	post(t, d, textUpdate(1, "/image"))

	assert.Zero(t, ai.images)
	require.Equal(t, []string{msgImageUsage}, tg.messages)
}

func TestImageFailure(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.imageErr = errors.New("policy block")

	post(t, d, textUpdate(1, "/image something"))

	require.Equal(t, []string{msgImageFail}, tg.messages)
}

func TestUnknownEventIgnored(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)

	rec := post(t, d, `{"update_id":1,"message":{"message_id":2,"chat":{"id":5},"from":{"id":5}}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, tg.messages)
	assert.Zero(t, ai.completes)
}

func TestMalformedBodyStillAcked(t *testing.T) {
	d, _, _, _ := newTestDispatcher(nil)

	rec := post(t, d, `{not json`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerPanicRecoveredAndAcked(t *testing.T) {
	d, tg, ai, _ := newTestDispatcher(nil)
	ai.panicOn = "transcribe"

	rec := post(t, d, voiceUpdate(1))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{msgInternalError}, tg.messages)
}

func TestNonPostRejected(t *testing.T) {
	d, _, _, _ := newTestDispatcher(nil)
	req := httptest.NewRequest(http.MethodGet, "/hook", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTypingIndicatorBestEffort(t *testing.T) {
	d, tg, _, _ := newTestDispatcher(nil)

	post(t, d, textUpdate(1, "hello"))
	assert.Equal(t, 1, tg.actions)

	post(t, d, voiceUpdate(1))
	assert.Equal(t, 2, tg.actions)
}
