package websocket

// This file exports internal types and functions so external-looking
// white-box tests in this package can exercise the wire codec, mask
// engine, and handshake directly without going through a live socket.

import (
	"bufio"
)

// FrameForTest is an exported mirror of frame for testing.
type FrameForTest struct {
	Fin     bool
	Rsv1    bool
	Rsv2    bool
	Rsv3    bool
	Opcode  byte
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// ReadFrameForTest reads a frame in permissive (non-strict-opcode) mode.
func ReadFrameForTest(r *bufio.Reader) (*FrameForTest, error) {
	return ReadFrameStrictForTest(r, false)
}

// ReadFrameStrictForTest reads a frame with the given strict-opcode
// setting.
func ReadFrameStrictForTest(r *bufio.Reader, strict bool) (*FrameForTest, error) {
	f, err := readFrame(r, strict)
	if err != nil {
		return nil, err
	}

	return &FrameForTest{
		Fin:     f.fin,
		Rsv1:    f.rsv1,
		Rsv2:    f.rsv2,
		Rsv3:    f.rsv3,
		Opcode:  f.opcode,
		Masked:  f.masked,
		Mask:    f.mask,
		Payload: f.payload,
	}, nil
}

// WriteFrameForTest writes a frame (exported for testing).
func WriteFrameForTest(w *bufio.Writer, ft *FrameForTest) error {
	return writeFrame(w, ft.toFrame())
}

// WriteFrameNoValidationForTest writes a frame without RFC validation, for
// constructing deliberately malformed fixtures.
func WriteFrameNoValidationForTest(w *bufio.Writer, ft *FrameForTest) error {
	return writeFrameNoValidation(w, ft.toFrame())
}

func (ft *FrameForTest) toFrame() *frame {
	return &frame{
		fin:     ft.Fin,
		rsv1:    ft.Rsv1,
		rsv2:    ft.Rsv2,
		rsv3:    ft.Rsv3,
		opcode:  ft.Opcode,
		masked:  ft.Masked,
		mask:    ft.Mask,
		payload: ft.Payload,
	}
}

// ApplyMaskForTest applies the XOR mask via the dispatching entry point
// (scalar or word-parallel depending on length).
func ApplyMaskForTest(data []byte, mask [4]byte) {
	applyMask(data, mask)
}

// ApplyMaskScalarForTest applies the XOR mask via the scalar loop only,
// used as the reference implementation in equivalence tests.
func ApplyMaskScalarForTest(data []byte, mask [4]byte) {
	applyMaskScalar(data, mask)
}

// ApplyMaskFastForTest applies the XOR mask via the word-parallel path
// only, regardless of length.
func ApplyMaskFastForTest(data []byte, mask [4]byte) {
	applyMaskFast(data, mask)
}

// GenerateMaskKeyForTest exposes the CSPRNG-backed key generator.
func GenerateMaskKeyForTest() ([4]byte, error) {
	return generateMaskKey()
}

// Opcode constants for testing.
const (
	OpcodeContinuationForTest = opcodeContinuation
	OpcodeTextForTest         = opcodeText
	OpcodeBinaryForTest       = opcodeBinary
	OpcodeCloseForTest        = opcodeClose
	OpcodePingForTest         = opcodePing
	OpcodePongForTest         = opcodePong
	OpcodeReservedForTest     = 0x3
)

// NewMessageReaderForTest exposes the fragmentation/control-frame router
// for tests that want to drive it directly off a bufio.Reader without a
// full Client/transport.
func NewMessageReaderForTest(r *bufio.Reader, strict bool, maxMessageSize int) *messageReader {
	return newMessageReader(r, strict, maxMessageSize)
}

// SetInsecureFixedNonceForTest pins the handshake's Sec-WebSocket-Key to
// a known value and disables Sec-WebSocket-Accept verification, for
// talking to a fixture server that doesn't compute a real digest. Tests
// must restore it to "" when done.
func SetInsecureFixedNonceForTest(nonce string) {
	insecureFixedNonce = nonce
}

// ExpectedAcceptForTest exposes the Sec-WebSocket-Accept computation.
func ExpectedAcceptForTest(nonce string) string {
	return expectedAccept(nonce)
}

// ParseTargetForTest exposes the dial URL parser.
func ParseTargetForTest(rawURL string) (host string, port int, path string, secure bool, err error) {
	t, err := parseTarget(rawURL)
	if err != nil {
		return "", 0, "", false, err
	}
	return t.host, t.port, t.path, t.secure, nil
}
