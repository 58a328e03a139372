package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voxgram/internal/config"
)

// Error wraps any failure of a provider capability call: network, auth,
// quota or an unusable response body.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transcript is the speech-to-text result. Language is best-effort and may
// be empty.
type Transcript struct {
	Text     string
	Language string
}

// Completion is the chat result. Empty Text on a successful call is a valid
// outcome, not an error; callers decide how to present it.
type Completion struct {
	Text string
}

// SynthesizedAudio is provider-native and must be transcoded before it can
// be delivered as a voice note.
type SynthesizedAudio struct {
	Bytes []byte
	MIME  string
}

const completionTemperature = 0.6

// Client exposes the four provider capabilities the bot uses. Each call is
// one network request, no retries, no partial results.
type Client struct {
	api    openai.Client
	models config.Models
}

func New(apiKey string, models config.Models, httpClient *http.Client) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{
		api:    openai.NewClient(opts...),
		models: models,
	}
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, name, mime string) (Transcript, error) {
	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(c.models.Transcribe),
		File:  openai.File(bytes.NewReader(audio), name, mime),
	})
	if err != nil {
		return Transcript{}, &Error{Op: "transcribe", Err: err}
	}
	return Transcript{Text: resp.Text}, nil
}

func (c *Client) Complete(ctx context.Context, prompt, preamble string) (Completion, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(preamble),
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.models.Chat),
		Temperature: openai.Float(completionTemperature),
	})
	if err != nil {
		return Completion{}, &Error{Op: "complete", Err: err}
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &Error{Op: "complete", Err: fmt.Errorf("no choices in response")}
	}
	return Completion{Text: resp.Choices[0].Message.Content}, nil
}

func (c *Client) Synthesize(ctx context.Context, text string) (SynthesizedAudio, error) {
	resp, err := c.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.models.Speech),
		Voice:          openai.AudioSpeechNewParamsVoice(c.models.Voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return SynthesizedAudio{}, &Error{Op: "synthesize", Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return SynthesizedAudio{}, &Error{Op: "synthesize", Err: fmt.Errorf("read audio body: %w", err)}
	}
	return SynthesizedAudio{Bytes: data, MIME: "audio/mpeg"}, nil
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := c.api.Images.Generate(ctx, openai.ImageGenerateParams{
		Model:  openai.ImageModel(c.models.Image),
		Prompt: prompt,
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return nil, &Error{Op: "image", Err: err}
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &Error{Op: "image", Err: fmt.Errorf("no image in response")}
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &Error{Op: "image", Err: fmt.Errorf("decode b64_json: %w", err)}
	}
	return img, nil
}
