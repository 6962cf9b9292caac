// Package chat implements the tmachat business API client. Every call
// goes through the session gateway, which supplies the bearer token and
// transparently recovers expired sessions.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPageLimit is the page size used when the caller does not
// specify one.
const DefaultPageLimit = 50

// Doer dispatches an HTTP request. Satisfied by *session.Gateway and by
// *http.Client in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError reports a non-2xx response from a business endpoint. The
// session layer never reinterprets these; they pass through to the
// caller unchanged.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

// Client talks to the chat backend.
type Client struct {
	baseURL string
	gateway Doer
}

// NewClient creates a chat client dispatching through gateway.
func NewClient(baseURL string, gateway Doer) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		gateway: gateway,
	}
}

// ListChats returns one page of the user's chats.
func (c *Client) ListChats(ctx context.Context, offset, limit int) (*ChatPage, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	path := fmt.Sprintf("user/chats?%s", pageQuery(offset, limit))
	var page ChatPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllChats walks the paginated listing to completion.
func (c *Client) ListAllChats(ctx context.Context) ([]Chat, error) {
	var all []Chat
	offset := 0
	for {
		page, err := c.ListChats(ctx, offset, DefaultPageLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Count {
			return all, nil
		}
	}
}

// CreateChat creates a new chat with the given subject.
func (c *Client) CreateChat(ctx context.Context, subject string) (*Chat, error) {
	body := map[string]string{"chat_subject": subject}
	var chat Chat
	if err := c.doJSON(ctx, http.MethodPost, "chats", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// RenameChat changes a chat's subject.
func (c *Client) RenameChat(ctx context.Context, chatID int64, subject string) (*Chat, error) {
	body := map[string]string{"chat_subject": subject}
	var chat Chat
	path := fmt.Sprintf("chats/%d/subject", chatID)
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// RemoveChat deletes a chat.
func (c *Client) RemoveChat(ctx context.Context, chatID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("chats/%d", chatID), nil, nil)
}

// GetChat fetches a single chat by id.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("chats/by-id/%d", chatID), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// Messages returns one page of a chat's message history.
func (c *Client) Messages(ctx context.Context, chatID int64, offset, limit int) (*MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	path := fmt.Sprintf("chats/%d/messages?%s", chatID, pageQuery(offset, limit))
	var page MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Ask sends a user message to a chat. The assistant's reply arrives
// asynchronously; see WaitForReply.
func (c *Client) Ask(ctx context.Context, chatID int64, text string) (int64, error) {
	body := map[string]string{"text": text}
	var resp struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("chats/%d/messages", chatID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// LastMessage returns the most recent assistant message in a chat.
func (c *Client) LastMessage(ctx context.Context, chatID int64) (*Message, error) {
	var msg Message
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("chats/%d/last-message", chatID), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces a message's text, optionally updating its
// attachments.
func (c *Client) EditMessage(ctx context.Context, messageID int64, text string, attachments []Attachment) error {
	body := map[string]interface{}{"text": text}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("messages/%d/edit", messageID), body, nil)
}

// UploadFiles uploads local files as message attachments.
func (c *Client) UploadFiles(ctx context.Context, paths []string) ([]UploadedFile, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		part, err := writer.CreateFormFile("file", filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to stage %s for upload: %w", p, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"files", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var files []UploadedFile
	if err := c.dispatch(req, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// RemoveFile deletes an uploaded file.
func (c *Client) RemoveFile(ctx context.Context, fileID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("files/%d", fileID), nil, nil)
}

func pageQuery(offset, limit int) string {
	q := url.Values{}
	q.Set("offset", fmt.Sprintf("%d", offset))
	q.Set("limit", fmt.Sprintf("%d", limit))
	return q.Encode()
}

// doJSON sends a JSON request through the gateway and decodes the
// response into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.dispatch(req, out)
}

func (c *Client) dispatch(req *http.Request, out interface{}) error {
	resp, err := c.gateway.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
