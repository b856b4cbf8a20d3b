package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrUnknownMessage  = errors.New("unknown command type")
	ErrShortPayload    = errors.New("payload too short for command type")
	ErrTrailingBytes   = errors.New("payload longer than command type")
	ErrInvalidSide     = errors.New("invalid side")

	// ErrDecode matches every error produced while decoding a well-framed
	// but malformed message, so callers can tell it apart from I/O errors.
	ErrDecode = errors.New("malformed frame")
)

// DecodeError reports a frame that arrived intact but could not be decoded.
type DecodeError struct {
	Type CommandType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

func decodeErr(t CommandType, err error) error {
	return &DecodeError{Type: t, Err: err}
}

// --- Commands ---

// Command is one of Start, ClientInfo, Coordinates, Scroll, Key, File, Data
// or Error. The set is closed: only this package can add variants.
type Command interface {
	Type() CommandType
	isCommand()
}

// Start tells a client the topology is final and forwarding begins.
type Start struct{}

// ClientInfo is the first message a client sends: its resolution and side.
type ClientInfo struct {
	Width  int32
	Height int32
	Side   Side
}

// Coordinates is an absolute cursor position on the receiver's screen.
type Coordinates struct {
	X int32
	Y int32
}

// Scroll is one wheel event on the given relative axis.
type Scroll struct {
	Axis  uint16
	Value int32
}

// Key is a key tap.
type Key struct {
	Code uint16
}

// File announces a file name; the next command on the channel is its Data.
type File struct {
	Name string
}

// Data carries the contents of the previously announced File.
type Data struct {
	Bytes []byte
}

// Error is a payload-less failure notice.
type Error struct{}

func (Start) Type() CommandType       { return TypeStart }
func (ClientInfo) Type() CommandType  { return TypeClientInfo }
func (Coordinates) Type() CommandType { return TypeCoordinates }
func (Scroll) Type() CommandType      { return TypeScroll }
func (Key) Type() CommandType         { return TypeKey }
func (File) Type() CommandType        { return TypeFile }
func (Data) Type() CommandType        { return TypeData }
func (Error) Type() CommandType       { return TypeError }

func (Start) isCommand()       {}
func (ClientInfo) isCommand()  {}
func (Coordinates) isCommand() {}
func (Scroll) isCommand()      {}
func (Key) isCommand()         {}
func (File) isCommand()        {}
func (Data) isCommand()        {}
func (Error) isCommand()       {}

// --- Encoding ---

// WriteMessage writes a framed command (header + payload) to w.
//
// Fixed-size commands encode into a stack buffer. Data writes its header and
// the byte payload separately so a large file is not copied a second time.
func WriteMessage(w io.Writer, cmd Command) error {
	var payload []byte

	// Large enough for the biggest fixed-size payload (ClientInfo).
	var scratch [ClientInfoSize]byte

	switch c := cmd.(type) {
	case Start, Error:
	case ClientInfo:
		if c.Side != SideLeft && c.Side != SideRight {
			return fmt.Errorf("encode ClientInfo: %w: %d", ErrInvalidSide, c.Side)
		}
		binary.BigEndian.PutUint32(scratch[0:4], uint32(c.Width))
		binary.BigEndian.PutUint32(scratch[4:8], uint32(c.Height))
		scratch[8] = byte(c.Side)
		payload = scratch[:ClientInfoSize]
	case Coordinates:
		binary.BigEndian.PutUint32(scratch[0:4], uint32(c.X))
		binary.BigEndian.PutUint32(scratch[4:8], uint32(c.Y))
		payload = scratch[:CoordinatesSize]
	case Scroll:
		binary.BigEndian.PutUint16(scratch[0:2], c.Axis)
		binary.BigEndian.PutUint32(scratch[2:6], uint32(c.Value))
		payload = scratch[:ScrollSize]
	case Key:
		binary.BigEndian.PutUint16(scratch[0:2], c.Code)
		payload = scratch[:KeySize]
	case File:
		if len(c.Name) > MaxNameSize {
			return ErrPayloadTooLarge
		}
		payload = make([]byte, FileHeaderSize+len(c.Name))
		binary.BigEndian.PutUint16(payload[0:2], uint16(len(c.Name)))
		copy(payload[2:], c.Name)
	case Data:
		return writeDataMessage(w, c)
	default:
		return fmt.Errorf("unsupported command type: %T", cmd)
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	header[4] = byte(cmd.Type())

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// writeDataMessage writes a Data frame without copying its bytes into an
// intermediate buffer.
func writeDataMessage(w io.Writer, d Data) error {
	if len(d.Bytes) > MaxDataSize {
		return ErrPayloadTooLarge
	}

	// Frame header + byte count together (9 bytes).
	var hdr [HeaderSize + DataHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(DataHeaderSize+len(d.Bytes)))
	hdr[4] = byte(TypeData)
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(d.Bytes)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(d.Bytes) > 0 {
		if _, err := w.Write(d.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// --- Decoding ---

// ReadMessage reads one framed command from r.
//
// I/O errors are returned as-is: io.EOF means the stream ended cleanly on a
// frame boundary, io.ErrUnexpectedEOF that it ended mid-frame. Malformed
// frames yield a *DecodeError.
func ReadMessage(r io.Reader) (Command, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	cmdType := CommandType(header[4])

	if payloadLen > MaxPayloadSize {
		return nil, decodeErr(cmdType, ErrPayloadTooLarge)
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return DecodePayload(cmdType, payload)
}

// DecodePayload decodes a raw payload given its command type. The payload
// must be exactly as long as the command requires.
func DecodePayload(cmdType CommandType, payload []byte) (Command, error) {
	switch cmdType {
	case TypeStart:
		if err := exactSize(payload, 0); err != nil {
			return nil, decodeErr(cmdType, err)
		}
		return Start{}, nil

	case TypeError:
		if err := exactSize(payload, 0); err != nil {
			return nil, decodeErr(cmdType, err)
		}
		return Error{}, nil

	case TypeClientInfo:
		if err := exactSize(payload, ClientInfoSize); err != nil {
			return nil, decodeErr(cmdType, err)
		}
		side := Side(payload[8])
		if side != SideLeft && side != SideRight {
			return nil, decodeErr(cmdType, fmt.Errorf("%w: %d", ErrInvalidSide, payload[8]))
		}
		return ClientInfo{
			Width:  int32(binary.BigEndian.Uint32(payload[0:4])),
			Height: int32(binary.BigEndian.Uint32(payload[4:8])),
			Side:   side,
		}, nil

	case TypeCoordinates:
		if err := exactSize(payload, CoordinatesSize); err != nil {
			return nil, decodeErr(cmdType, err)
		}
		return Coordinates{
			X: int32(binary.BigEndian.Uint32(payload[0:4])),
			Y: int32(binary.BigEndian.Uint32(payload[4:8])),
		}, nil

	case TypeScroll:
		if err := exactSize(payload, ScrollSize); err != nil {
			return nil, decodeErr(cmdType, err)
		}
		return Scroll{
			Axis:  binary.BigEndian.Uint16(payload[0:2]),
			Value: int32(binary.BigEndian.Uint32(payload[2:6])),
		}, nil

	case TypeKey:
		if err := exactSize(payload, KeySize); err != nil {
			return nil, decodeErr(cmdType, err)
		}
		return Key{Code: binary.BigEndian.Uint16(payload[0:2])}, nil

	case TypeFile:
		if len(payload) < FileHeaderSize {
			return nil, decodeErr(cmdType, ErrShortPayload)
		}
		nameLen := int(binary.BigEndian.Uint16(payload[0:2]))
		if err := exactSize(payload, FileHeaderSize+nameLen); err != nil {
			return nil, decodeErr(cmdType, err)
		}
		return File{Name: string(payload[FileHeaderSize:])}, nil

	case TypeData:
		if len(payload) < DataHeaderSize {
			return nil, decodeErr(cmdType, ErrShortPayload)
		}
		n := binary.BigEndian.Uint32(payload[0:4])
		if uint64(n) != uint64(len(payload)-DataHeaderSize) {
			if uint64(n) > uint64(len(payload)-DataHeaderSize) {
				return nil, decodeErr(cmdType, ErrShortPayload)
			}
			return nil, decodeErr(cmdType, ErrTrailingBytes)
		}
		return Data{Bytes: payload[DataHeaderSize:]}, nil

	default:
		return nil, decodeErr(cmdType, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, byte(cmdType)))
	}
}

func exactSize(payload []byte, want int) error {
	switch {
	case len(payload) < want:
		return ErrShortPayload
	case len(payload) > want:
		return ErrTrailingBytes
	}
	return nil
}
