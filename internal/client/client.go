// Package client talks to the chat server: it logs in, uploads files and
// consumes the raw text stream of /chat/stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	conversationIDHeader = "X-Conversation-Id"
	streamErrorTrailer   = "X-Stream-Error"

	sniffLen     = 64
	maxErrorBody = 64 << 10
)

// ErrHTMLResponse means an HTML page came back where a stream was expected,
// typically a login redirect after the session expired.
var ErrHTMLResponse = errors.New("server returned an HTML page instead of a chat stream")

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Message)
}

// Message is one turn sent to the server.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the body of POST /chat/stream.
type StreamRequest struct {
	Messages          []Message `json:"messages"`
	ConversationID    *int64    `json:"conversation_id,omitempty"`
	Model             string    `json:"model,omitempty"`
	SystemPrompt      *string   `json:"system_prompt,omitempty"`
	AttachmentTempIDs []string  `json:"attachment_temp_ids,omitempty"`
	WebSearch         bool      `json:"web_search,omitempty"`
}

// Result is what a stream produced. ConversationID is set as soon as the
// server accepted the request, even when the stream later fails.
type Result struct {
	ConversationID int64
	Text           string
	// StreamError is the server's out-of-band error signal; Text then holds
	// the in-band "Error: ..." copy.
	StreamError string
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token in use.
func (c *Client) Token() string {
	return c.token
}

// Login exchanges credentials for a bearer token and keeps it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/users/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	var out struct {
		AuthToken string `json:"auth_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if out.AuthToken == "" {
		return errors.New("login response carried no token")
	}
	c.token = out.AuthToken
	return nil
}

// Upload sends files and returns their pending upload tokens.
func (c *Client) Upload(ctx context.Context, paths ...string) ([]string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range paths {
		if err := addFile(w, p); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	var out struct {
		TempIDs []string `json:"temp_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return out.TempIDs, nil
}

func addFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Stream posts the request and calls onDelta with every chunk of text as it
// arrives. Cancelling ctx aborts the transport; the partial Result is
// returned together with the context error.
func (c *Client) Stream(ctx context.Context, sr StreamRequest, onDelta func(string)) (*Result, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("encode stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	if isHTMLContentType(resp.Header.Get("Content-Type")) {
		return nil, ErrHTMLResponse
	}

	res := &Result{}
	if id, err := strconv.ParseInt(resp.Header.Get(conversationIDHeader), 10, 64); err == nil {
		res.ConversationID = id
	}

	var (
		text    strings.Builder
		head    []byte
		sniffed bool
		pending []byte
		buf     = make([]byte, 4096)
	)
	emit := func(chunk []byte) {
		data := append(pending, chunk...)
		cut := completeRunes(data)
		pending = append([]byte(nil), data[cut:]...)
		if cut > 0 {
			s := string(data[:cut])
			text.WriteString(s)
			if onDelta != nil {
				onDelta(s)
			}
		}
	}

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if sniffed {
				emit(buf[:n])
			} else {
				head = append(head, buf[:n]...)
				if len(head) >= sniffLen || !maybeHTML(head) {
					if looksLikeHTML(head) {
						return nil, ErrHTMLResponse
					}
					sniffed = true
					emit(head)
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			res.Text = text.String()
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("read stream: %w", rerr)
		}
	}
	if !sniffed && len(head) > 0 {
		if looksLikeHTML(head) {
			return nil, ErrHTMLResponse
		}
		emit(head)
	}
	if len(pending) > 0 {
		text.Write(pending)
		if onDelta != nil {
			onDelta(string(pending))
		}
	}
	res.Text = text.String()
	res.StreamError = resp.Trailer.Get(streamErrorTrailer)
	return res, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkResponse turns a non-2xx response into an error.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if isHTMLContentType(resp.Header.Get("Content-Type")) || looksLikeHTML(data) {
		return fmt.Errorf("%w (status %d)", ErrHTMLResponse, resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

func isHTMLContentType(ct string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "text/html")
}

var htmlMarkers = []string{"<!doctype html", "<html"}

// looksLikeHTML reports whether data starts with an HTML document marker.
func looksLikeHTML(data []byte) bool {
	s := strings.ToLower(strings.TrimLeft(string(data), " \t\r\n\ufeff"))
	for _, m := range htmlMarkers {
		if strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}

// maybeHTML reports whether more bytes could still turn data into an HTML marker.
func maybeHTML(data []byte) bool {
	s := strings.ToLower(strings.TrimLeft(string(data), " \t\r\n\ufeff"))
	if s == "" {
		return true
	}
	for _, m := range htmlMarkers {
		if strings.HasPrefix(m, s) || strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}

// completeRunes returns the length of the longest prefix of data that does
// not end inside a multi-byte rune.
func completeRunes(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return i
			}
			break
		}
	}
	return len(data)
}
