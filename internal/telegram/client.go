package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

const defaultAPIHost = "https://api.telegram.org"

// IOError wraps a failure to reach or be understood by the Bot API. It only
// ever aborts the event being processed.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("telegram: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Client is a thin Bot API client covering the calls the bot makes: send
// text/photo/voice, typing indicator, file fetch and webhook registration.
type Client struct {
	token string
	host  string
	http  *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithHost(host string) ClientOption {
	return func(c *Client) { c.host = host }
}

func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token: token,
		host:  defaultAPIHost,
		http:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, body io.Reader, contentType string) (json.RawMessage, error) {
	url := c.host + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &IOError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &IOError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &IOError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.OK {
		return nil, &IOError{Op: method, Err: fmt.Errorf("api: %s", out.Description)}
	}
	return out.Result, nil
}

func (c *Client) callJSON(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, &IOError{Op: method, Err: err}
	}
	return c.call(ctx, method, bytes.NewReader(body), "application/json")
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.callJSON(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// SendChatAction emits a typing/recording indicator. Best-effort: callers
// are expected to ignore the error.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	_, err := c.callJSON(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	})
	return err
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	return c.sendFile(ctx, "sendPhoto", "photo", "image.png", chatID, photo, caption)
}

func (c *Client) SendVoice(ctx context.Context, chatID int64, voice []byte, caption string) error {
	return c.sendFile(ctx, "sendVoice", "voice", "voice.ogg", chatID, voice, caption)
}

func (c *Client) sendFile(ctx context.Context, method, field, filename string, chatID int64, data []byte, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return &IOError{Op: method, Err: err}
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return &IOError{Op: method, Err: err}
		}
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return &IOError{Op: method, Err: err}
	}
	if _, err := fw.Write(data); err != nil {
		return &IOError{Op: method, Err: err}
	}
	if err := mw.Close(); err != nil {
		return &IOError{Op: method, Err: err}
	}

	_, err = c.call(ctx, method, &buf, mw.FormDataContentType())
	return err
}

func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	raw, err := c.callJSON(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return File{}, err
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return File{}, &IOError{Op: "getFile", Err: fmt.Errorf("decode result: %w", err)}
	}
	if f.FilePath == "" {
		return File{}, &IOError{Op: "getFile", Err: fmt.Errorf("empty file_path for %s", fileID)}
	}
	return f, nil
}

// Download fetches file content by the path returned from GetFile.
func (c *Client) Download(ctx context.Context, filePath string) ([]byte, error) {
	url := c.host + "/file/bot" + c.token + "/" + filePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &IOError{Op: "download", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &IOError{Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &IOError{Op: "download", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &IOError{Op: "download", Err: err}
	}
	return data, nil
}

// SetWebhook registers the public webhook URL with the platform. Called once
// at startup; failure is fatal for the caller.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	_, err := c.callJSON(ctx, "setWebhook", map[string]any{"url": url})
	return err
}
