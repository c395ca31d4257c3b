package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"
)

// clientState tracks where a Client sits in its connection lifecycle:
// New -> UrlParsed -> Connected -> Open -> Closing -> Closed. Dial walks
// a Client through the first four states in one call; Closing/Closed are
// reached from Close or from receiving/sending a close frame.
type clientState int32

const (
	stateNew clientState = iota
	stateURLParsed
	stateConnected
	stateOpen
	stateClosing
	stateClosed
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultVersion          = 13
	defaultMaxMessageSize   = 32 * 1024 * 1024
	defaultCloseTimeout     = 5 * time.Second
)

// DialOptions configures Dial. A nil *DialOptions uses every default.
type DialOptions struct {
	// Version is the Sec-WebSocket-Version to request. RFC 6455 defines
	// only version 13; the field exists so a test client can send a
	// deliberately wrong version to exercise server-side rejection.
	Version int

	// Port, when non-zero, replaces the scheme default port for a
	// rawURL that carries no port of its own. A port given in rawURL
	// takes precedence over it.
	Port int

	// CertPath and CertDir add additional trusted root certificates for
	// wss:// dials, on top of the system pool. Both may be set.
	CertPath string
	CertDir  string

	// HandshakeTimeout bounds TCP connect, optional TLS handshake, and
	// the HTTP Upgrade exchange combined. Defaults to 10s.
	HandshakeTimeout time.Duration

	// ReadTimeout, when non-zero, is applied as a rolling per-call
	// deadline at the start of each NextMessage call once the connection
	// is open.
	ReadTimeout time.Duration

	// WriteTimeout, when non-zero, is applied as a per-call deadline
	// before each frame write.
	WriteTimeout time.Duration

	// StrictOpcodes rejects frames using an RFC 6455-reserved opcode
	// instead of passing them through to the application. Default false.
	StrictOpcodes bool

	// Header carries additional request headers to send with the
	// Upgrade request (e.g. Authorization, Cookie).
	Header http.Header

	// Subprotocols is the client's requested Sec-WebSocket-Protocol
	// list, offered in the order given.
	Subprotocols []string

	// MaxMessageSize bounds the reassembled size, in bytes, of a single
	// message (fragmented or not). A message exceeding it fails with
	// ErrMessageTooLarge instead of growing the reassembly buffer
	// without bound. Defaults to 32 MiB; negative disables the limit.
	MaxMessageSize int

	// CloseTimeout bounds how long Close waits for the peer's answering
	// Close frame before tearing down the transport regardless.
	// Defaults to 5s.
	CloseTimeout time.Duration
}

func (o *DialOptions) version() int {
	if o == nil || o.Version == 0 {
		return defaultVersion
	}
	return o.Version
}

func (o *DialOptions) handshakeTimeout() time.Duration {
	if o == nil || o.HandshakeTimeout == 0 {
		return defaultHandshakeTimeout
	}
	return o.HandshakeTimeout
}

// Client is a single RFC 6455 WebSocket client connection.
//
// It owns exactly one transport: there is no connection pooling and no
// automatic reconnect (out of scope -- callers that want reconnection
// logic call Dial again from their own retry loop). A Client is safe for
// concurrent use: Write serializes under its own mutex (RFC 6455 Section
// 5.1 forbids interleaving frames of one message with another), and
// Close is idempotent.
type Client struct {
	opts      *DialOptions
	transport transport

	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   clientState

	reader *messageReader

	onMessageOnce sync.Once
}

// Dial performs a TCP (or TLS, for wss://) connection and the RFC 6455
// Section 4.1 opening handshake against rawURL, and returns a Client
// ready for Write/NextMessage/OnMessage.
//
// ctx bounds the whole dial, including the handshake; DialOptions.
// HandshakeTimeout additionally bounds just the connect+handshake phase
// and is applied as a derived context deadline.
func Dial(ctx context.Context, rawURL string, opts *DialOptions) (*Client, error) {
	tgt, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Port != 0 {
		if u, perr := url.Parse(rawURL); perr == nil && u.Port() == "" {
			tgt.port = opts.Port
		}
	}

	c := &Client{opts: opts, state: stateURLParsed}

	hctx, cancel := context.WithTimeout(ctx, opts.handshakeTimeout())
	defer cancel()

	dialer := &net.Dialer{}
	tr, err := dialTransport(hctx, dialer, tgt, opts.certPath(), opts.certDir())
	if err != nil {
		if hctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
		}
		return nil, err
	}
	c.transport = tr
	c.setState(stateConnected)

	if deadline, ok := hctx.Deadline(); ok {
		_ = tr.SetReadDeadline(deadline)
		_ = tr.SetWriteDeadline(deadline)
	}

	if err := c.handshake(tgt); err != nil {
		_ = tr.Close()
		if hctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
		}
		return nil, err
	}

	// Clear the handshake deadline; ReadTimeout/WriteTimeout (if any)
	// take over per-call from here.
	_ = tr.SetReadDeadline(time.Time{})
	_ = tr.SetWriteDeadline(time.Time{})

	c.reader = newMessageReader(tr.Reader(), opts.strictOpcodes(), opts.maxMessageSize())
	c.setState(stateOpen)

	return c, nil
}

func (o *DialOptions) certPath() string {
	if o == nil {
		return ""
	}
	return o.CertPath
}

func (o *DialOptions) certDir() string {
	if o == nil {
		return ""
	}
	return o.CertDir
}

func (o *DialOptions) strictOpcodes() bool {
	return o != nil && o.StrictOpcodes
}

func (o *DialOptions) header() http.Header {
	if o == nil {
		return nil
	}
	return o.Header
}

func (o *DialOptions) subprotocols() []string {
	if o == nil {
		return nil
	}
	return o.Subprotocols
}

func (o *DialOptions) closeTimeout() time.Duration {
	if o == nil || o.CloseTimeout == 0 {
		return defaultCloseTimeout
	}
	return o.CloseTimeout
}

func (o *DialOptions) maxMessageSize() int {
	if o == nil || o.MaxMessageSize == 0 {
		return defaultMaxMessageSize
	}
	if o.MaxMessageSize < 0 {
		return 0
	}
	return o.MaxMessageSize
}

// handshake runs the client side of RFC 6455 Section 4.1 over the
// already-connected transport.
func (c *Client) handshake(tgt *target) error {
	nonce, err := generateNonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	if err := buildRequest(c.transport.Writer(), tgt, nonce, c.opts.version(), c.opts.header(), c.opts.subprotocols()); err != nil {
		return fmt.Errorf("send handshake request: %w", err)
	}

	if _, err := readResponse(c.transport.Reader(), nonce); err != nil {
		return err
	}

	return nil
}

func (c *Client) setState(s clientState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Client) getState() clientState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Write sends a single, unfragmented data message.
//
// RFC 6455 Section 5.1 forbids interleaving the frames of two messages
// from one sender, and Section 5.3 requires every client-to-server frame
// to carry a fresh, unpredictable masking key; Write generates that key
// from crypto/rand and holds writeMu for the whole frame write.
func (c *Client) Write(messageType MessageType, data []byte) error {
	if c.getState() >= stateClosing {
		return ErrClosed
	}

	var opcode byte
	switch messageType {
	case TextMessage:
		opcode = opcodeText
		if !utf8.Valid(data) {
			return ErrInvalidUTF8
		}
	case BinaryMessage:
		opcode = opcodeBinary
	default:
		return ErrInvalidMessageType
	}

	return c.writeFrame(opcode, data, true)
}

// writeFrame builds and sends a single masked frame. fin is false only
// when a future fragmentation API splits a large message across calls;
// today every caller passes true since Client does not fragment
// outbound messages.
func (c *Client) writeFrame(opcode byte, payload []byte, fin bool) error {
	mask, err := generateMaskKey()
	if err != nil {
		return fmt.Errorf("generate mask key: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.writeTimeout() > 0 {
		_ = c.transport.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout()))
	}

	f := &frame{
		fin:     fin,
		opcode:  opcode,
		masked:  true,
		mask:    mask,
		payload: payload,
	}
	return writeFrame(c.transport.Writer(), f)
}

func (o *DialOptions) writeTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.WriteTimeout
}

func (o *DialOptions) readTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.ReadTimeout
}

// NextMessage blocks until one complete message is available.
//
// Ping and Close are delivered like any other message rather than
// swallowed: NextMessage answers Ping with an automatic Pong before
// returning it to the caller, and marks the connection Closing and
// echoes the close frame before returning a CloseMessage (RFC 6455
// Section 7.1.2's close handshake). Callers that only want data messages
// should use OnMessage with a callback that ignores MessageType Ping/Pong.
//
// A read that times out (DialOptions.ReadTimeout) is temporary: the
// client stays Open and a later call can still succeed. Any other read
// error is treated as fatal and moves the client to Closed.
func (c *Client) NextMessage() (*Message, error) {
	if c.getState() >= stateClosing {
		return nil, ErrClosed
	}

	if c.opts.readTimeout() > 0 {
		_ = c.transport.SetReadDeadline(time.Now().Add(c.opts.readTimeout()))
	}

	msg, err := c.reader.nextMessage()
	if err != nil {
		if !IsTemporaryError(err) {
			c.setState(stateClosed)
		}
		return nil, err
	}

	switch msg.Type {
	case PingMessage:
		if err := c.writeFrame(opcodePong, msg.Body, true); err != nil {
			return nil, err
		}
	case CloseMessage:
		c.setState(stateClosing)
		_ = c.writeFrame(opcodeClose, mustEncodeClose(msg.Code, ""), true)
		_ = c.transport.Close()
		c.setState(stateClosed)
	}

	return msg, nil
}

func mustEncodeClose(code CloseCode, reason string) []byte {
	payload, err := encodeClosePayload(code, reason)
	if err != nil {
		// code/reason came from our own echo path, already validated
		// once by the peer's frame; fall back to an empty close body
		// rather than failing the close handshake outright.
		return nil
	}
	return payload
}

// OnMessage runs callback for every message received, blocking the
// calling goroutine until the loop ends, and returns the outcome: nil on
// a clean close (the peer's CloseMessage was received and the close
// handshake completed) or on callback choosing to stop (returning
// false), and the terminating error otherwise. The caller is responsible
// for running it on its own goroutine if it wants to do other work
// concurrently. OnMessage may be called at most once per Client;
// subsequent calls return an error without touching the connection.
func (c *Client) OnMessage(callback func(*Client, *Message) bool) error {
	started := false
	c.onMessageOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("websocket: OnMessage already registered")
	}

	for {
		msg, err := c.NextMessage()
		if err != nil {
			if IsCloseError(err) {
				return nil
			}
			return err
		}
		if !callback(c, msg) {
			return nil
		}
	}
}

// Close performs the RFC 6455 Section 7.1.2 closing handshake: it sends
// a Close frame with CloseNormalClosure, then waits up to
// DialOptions.CloseTimeout for the peer's answering Close frame before
// tearing down the transport. The transport is closed either way once
// the bound elapses, so a peer that never echoes cannot wedge Close
// forever. Close is idempotent.
func (c *Client) Close() error {
	if c.getState() >= stateClosing {
		return nil
	}
	c.setState(stateClosing)

	payload, err := encodeClosePayload(CloseNormalClosure, "")
	if err != nil {
		c.setState(stateClosed)
		_ = c.transport.Close()
		return err
	}

	writeErr := c.writeFrame(opcodeClose, payload, true)
	c.awaitCloseEcho(c.opts.closeTimeout())

	closeErr := c.transport.Close()
	c.setState(stateClosed)

	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// awaitCloseEcho reads frames directly off the reader, bypassing
// NextMessage's stateClosing guard (already tripped by the caller),
// until it sees the peer's answering Close frame or timeout elapses.
// Any other message arriving during the wait is discarded -- the
// connection is shutting down and has no further consumer for it.
func (c *Client) awaitCloseEcho(timeout time.Duration) {
	_ = c.transport.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = c.transport.SetReadDeadline(time.Time{}) }()

	for {
		msg, err := c.reader.nextMessage()
		if err != nil {
			return
		}
		if msg.Type == CloseMessage {
			return
		}
	}
}
