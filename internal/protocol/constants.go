package protocol

import "fmt"

// Header: [4B payload_length big-endian][1B command_type]
const HeaderSize = 5

// MaxPayloadSize bounds a single frame (64 MB). A copied file travels in one
// Data frame, so this is also the largest file that can be sent.
const MaxPayloadSize = 64 * 1024 * 1024

// CommandType is the stable wire discriminant of a Command variant.
type CommandType byte

const (
	TypeStart       CommandType = 0x01
	TypeClientInfo  CommandType = 0x02
	TypeCoordinates CommandType = 0x03
	TypeScroll      CommandType = 0x04
	TypeKey         CommandType = 0x05
	TypeFile        CommandType = 0x06
	TypeData        CommandType = 0x07
	TypeError       CommandType = 0x08
)

func (t CommandType) String() string {
	switch t {
	case TypeStart:
		return "Start"
	case TypeClientInfo:
		return "ClientInfo"
	case TypeCoordinates:
		return "Coordinates"
	case TypeScroll:
		return "Scroll"
	case TypeKey:
		return "Key"
	case TypeFile:
		return "File"
	case TypeData:
		return "Data"
	case TypeError:
		return "Error"
	default:
		return fmt.Sprintf("CommandType(0x%02x)", byte(t))
	}
}

// Side is where a client's screen sits relative to the host.
type Side byte

const (
	SideLeft  Side = 0
	SideRight Side = 1
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return fmt.Sprintf("Side(%d)", byte(s))
	}
}

// ParseSide accepts "left" or "right".
func ParseSide(s string) (Side, error) {
	switch s {
	case "left":
		return SideLeft, nil
	case "right":
		return SideRight, nil
	default:
		return 0, fmt.Errorf("invalid side %q (want left or right)", s)
	}
}

// Fixed payload sizes (excluding header).
const (
	ClientInfoSize  = 9 // i32 width + i32 height + u8 side
	CoordinatesSize = 8 // i32 x + i32 y
	ScrollSize      = 6 // u16 axis + i32 value
	KeySize         = 2 // u16 code
	FileHeaderSize  = 2 // u16 name length (name follows)
	DataHeaderSize  = 4 // u32 byte count (bytes follow)
)

// MaxNameSize is the longest File name the u16 length prefix can carry.
const MaxNameSize = 1<<16 - 1

// MaxDataSize is the largest Data payload that still fits in one frame.
const MaxDataSize = MaxPayloadSize - DataHeaderSize
