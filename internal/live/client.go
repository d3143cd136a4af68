// Package live speaks the Gemini Live BidiGenerateContent protocol over a
// WebSocket: one setup message, realtime audio input, and a stream of
// transcript deltas, response audio and turn markers back.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rbright/brainlive/internal/pcm"
)

const (
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice   = "Kore"

	bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	readLimitBytes    = 8 << 20
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("live connection closed")

// Setup is the connect-time session configuration.
type Setup struct {
	Model       string
	Voice       string
	Instruction string

	// Modalities defaults to AUDIO.
	Modalities          []string
	InputTranscription  bool
	OutputTranscription bool
}

// InlineAudio is one base64 response audio payload.
type InlineAudio struct {
	MIMEType string
	Data     string
}

// Message is one normalized inbound server message.
type Message struct {
	InputText    string
	OutputText   string
	Audio        []InlineAudio
	TurnComplete bool
	Interrupted  bool

	// Err carries a server-reported error.
	Err error
}

// Conn is an open realtime connection.
type Conn interface {
	SendAudio(ctx context.Context, frame pcm.Frame) error
	// Messages yields inbound messages in arrival order and is closed when
	// the connection ends.
	Messages() <-chan Message
	// Err returns the read error that ended the connection, if any.
	Err() error
	Close() error
}

// Dialer opens realtime connections.
type Dialer interface {
	Dial(ctx context.Context, setup Setup) (Conn, error)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another WebSocket endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithModel sets the model used when Setup.Model is empty.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithWireDump copies every inbound frame, one per line, to w.
func WithWireDump(w io.Writer) Option {
	return func(c *Client) { c.wireDump = w }
}

// Client dials Gemini Live sessions.
type Client struct {
	apiKey   string
	baseURL  string
	model    string
	logger   *slog.Logger
	wireDump io.Writer
}

var _ Dialer = (*Client)(nil)

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{apiKey: apiKey, baseURL: DefaultBaseURL, model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects, sends setup and waits for setupComplete. The returned
// connection is open and ready for audio.
func (c *Client) Dial(ctx context.Context, setup Setup) (Conn, error) {
	endpoint := c.baseURL + bidiPath + "?key=" + url.QueryEscape(c.apiKey)

	ws, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}
	ws.SetReadLimit(readLimitBytes)

	connCtx, cancel := context.WithCancel(context.Background())
	conn := &wsConn{
		ws:       ws,
		messages: make(chan Message, 64),
		ctx:      connCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   c.logger,
		wireDump: c.wireDump,
	}

	if err := conn.writeJSON(ctx, c.setupMessage(setup)); err != nil {
		conn.abort("setup failed")
		return nil, fmt.Errorf("send setup: %w", err)
	}
	if err := conn.awaitSetupComplete(ctx); err != nil {
		conn.abort("setup rejected")
		return nil, err
	}

	go conn.receiveLoop()
	go conn.keepaliveLoop()
	return conn, nil
}

func (c *Client) setupMessage(setup Setup) setupMessage {
	model := setup.Model
	if model == "" {
		model = c.model
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	modalities := setup.Modalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}

	msg := setupMessage{Setup: setupConfig{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: modalities},
	}}
	if setup.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.Voice}},
		}
	}
	if setup.Instruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: setup.Instruction}}}
	}
	if setup.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if setup.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

type wsConn struct {
	ws       *websocket.Conn
	messages chan Message
	logger   *slog.Logger
	wireDump io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (c *wsConn) SendAudio(ctx context.Context, frame pcm.Frame) error {
	if c.isClosed() {
		return ErrClosed
	}

	return c.writeJSON(ctx, realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []inlineData{{MIMEType: frame.MIMEType(), Data: frame.Base64}},
	}})
}

func (c *wsConn) Messages() <-chan Message { return c.messages }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection. Idempotent.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)

	// The close handshake runs while receiveLoop is still reading so the
	// peer's close frame is consumed.
	if err := c.ws.Close(websocket.StatusNormalClosure, "session closed"); err != nil && c.logger != nil {
		c.logger.Debug("live close handshake incomplete", "error", err.Error())
	}
	c.cancel()
	return nil
}

func (c *wsConn) abort(reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	_ = c.ws.Close(websocket.StatusInternalError, reason)
}

func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal live message: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) read(ctx context.Context) (serverMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return serverMessage{}, err
	}
	c.dump(data)

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return serverMessage{}, fmt.Errorf("decode live message: %w", err)
	}
	return msg, nil
}

func (c *wsConn) awaitSetupComplete(ctx context.Context) error {
	for {
		msg, err := c.read(ctx)
		if err != nil {
			return fmt.Errorf("await setup complete: %w", err)
		}
		if msg.Error != nil {
			return msg.Error.asError()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// receiveLoop owns the messages channel and closes it on exit.
func (c *wsConn) receiveLoop() {
	defer close(c.messages)

	for {
		msg, err := c.read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || c.isClosed() {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.logWarn("skipping undecodable live message", err)
				continue
			}
			c.setErr(err)
			return
		}

		out, ok := normalize(msg)
		if !ok {
			continue
		}
		select {
		case c.messages <- out:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.ws.Ping(pingCtx); err != nil {
				c.logWarn("live keepalive ping failed", err)
			}
			cancel()
		}
	}
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) dump(data []byte) {
	if c.wireDump == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.wireDump.Write(append(data, '\n'))
}

func (c *wsConn) logWarn(message string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(message, "error", err.Error())
}

// normalize flattens a server message; ok is false when it carries nothing.
func normalize(msg serverMessage) (Message, bool) {
	var out Message
	if msg.Error != nil {
		out.Err = msg.Error.asError()
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			out.InputText = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			out.OutputText = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					out.Audio = append(out.Audio, InlineAudio{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
				}
			}
		}
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
	}

	empty := out.Err == nil && out.InputText == "" && out.OutputText == "" &&
		len(out.Audio) == 0 && !out.TurnComplete && !out.Interrupted
	return out, !empty
}

func (e *serverError) asError() error {
	text := e.Message
	if text == "" {
		text = "unknown error"
	}
	if e.Code != 0 {
		return fmt.Errorf("live server error %d: %s", e.Code, text)
	}
	return fmt.Errorf("live server error: %s", text)
}
