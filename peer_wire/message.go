package peer_wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const Proto = "BitTorrent protocol"

//Decode errors mean the frame itself was broken, validation errors
//mean the frame was well-formed but impossible for this torrent.
var (
	ErrMalformedFrame  = errors.New("peer_wire: malformed frame")
	ErrUnknownType     = errors.New("peer_wire: unknown message type")
	ErrSemanticInvalid = errors.New("peer_wire: message invalid for torrent")
)

type MessageID int8

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	//KeepAlive doesn't have an ID at spec but we define one
	KeepAlive
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	case KeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("Unknown(%d)", int8(id))
	}
}

//Geometry is the little a codec needs to know about a torrent in order
//to judge whether a message makes sense for it.
type Geometry interface {
	NumPieces() int
	PieceSize(index uint32) int
}

type Msg struct {
	Kind  MessageID
	Index uint32
	Begin uint32
	Len   uint32
	Bf    BitField
	Block []byte
}

//largest legal frame: Piece type byte + index + begin + a max-sized block
const maxFrameLen = 9 + 1<<17

//Encode serializes m with its 4-byte big-endian length prefix.
func (m *Msg) Encode() []byte {
	checkWrite := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	if m.Kind == KeepAlive {
		return []byte{0, 0, 0, 0}
	}
	var b bytes.Buffer
	switch m.Kind {
	case Choke, Unchoke, Interested, NotInterested:
		checkWrite(writeBinary(&b, byte(m.Kind)))
	case Have:
		checkWrite(writeBinary(&b, byte(m.Kind), m.Index))
	case Bitfield:
		checkWrite(writeBinary(&b, byte(m.Kind), []byte(m.Bf)))
	case Request, Cancel:
		checkWrite(writeBinary(&b, byte(m.Kind), m.Index, m.Begin, m.Len))
	case Piece:
		checkWrite(writeBinary(&b, byte(m.Kind), m.Index, m.Begin, m.Block))
	default:
		panic("unknown kind of msg to send")
	}
	var msgLen [4]byte
	binary.BigEndian.PutUint32(msgLen[:], uint32(b.Len()))
	return append(msgLen[:], b.Bytes()...)
}

func (m *Msg) Write(w io.Writer) error {
	_, err := w.Write(m.Encode())
	return err
}

//Decode reads one framed message from r. It performs the structural
//checks only; callers that know the torrent should follow up with
//Validate. A payload shorter than its declared length surfaces as
//ErrMalformedFrame, other read failures as the underlying error.
func Decode(r io.Reader) (*Msg, error) {
	var msgLen [4]byte
	if _, err := io.ReadFull(r, msgLen[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(msgLen[:])
	if length == 0 {
		return &Msg{Kind: KeepAlive}, nil
	}
	if length > maxFrameLen {
		return nil, fmt.Errorf("%w: declared length %d", ErrMalformedFrame, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short payload", ErrMalformedFrame)
		}
		return nil, err
	}
	return decodePayload(payload)
}

func decodePayload(payload []byte) (*Msg, error) {
	msg := &Msg{Kind: MessageID(payload[0])}
	rest := payload[1:]
	exactLen := func(n int) error {
		if len(rest) != n {
			return fmt.Errorf("%w: %v payload of %d bytes", ErrMalformedFrame,
				msg.Kind, len(payload))
		}
		return nil
	}
	switch msg.Kind {
	case Choke, Unchoke, Interested, NotInterested:
		if err := exactLen(0); err != nil {
			return nil, err
		}
	case Have:
		if err := exactLen(4); err != nil {
			return nil, err
		}
		msg.Index = binary.BigEndian.Uint32(rest)
	case Bitfield:
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: empty bitfield", ErrMalformedFrame)
		}
		msg.Bf = BitField(append([]byte(nil), rest...))
	case Request, Cancel:
		if err := exactLen(12); err != nil {
			return nil, err
		}
		msg.Index = binary.BigEndian.Uint32(rest)
		msg.Begin = binary.BigEndian.Uint32(rest[4:])
		msg.Len = binary.BigEndian.Uint32(rest[8:])
	case Piece:
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: piece payload of %d bytes",
				ErrMalformedFrame, len(payload))
		}
		msg.Index = binary.BigEndian.Uint32(rest)
		msg.Begin = binary.BigEndian.Uint32(rest[4:])
		msg.Block = append([]byte(nil), rest[8:]...)
	default:
		return nil, fmt.Errorf("%w: type byte %d", ErrUnknownType, payload[0])
	}
	return msg, nil
}

//Validate checks m against the torrent's piece geometry. Messages that
//carry no torrent-relative fields always pass.
func (m *Msg) Validate(g Geometry) error {
	numPieces := g.NumPieces()
	inRange := func(index uint32) bool {
		return int64(index) < int64(numPieces)
	}
	switch m.Kind {
	case Have:
		if !inRange(m.Index) {
			return fmt.Errorf("%w: have of piece %d, torrent has %d",
				ErrSemanticInvalid, m.Index, numPieces)
		}
	case Bitfield:
		if !m.Bf.Valid(numPieces) {
			return fmt.Errorf("%w: bitfield of %d bytes, torrent has %d pieces",
				ErrSemanticInvalid, len(m.Bf), numPieces)
		}
	case Request, Cancel:
		if !inRange(m.Index) || int64(m.Begin)+int64(m.Len) > int64(g.PieceSize(m.Index)) {
			return fmt.Errorf("%w: %v of %d bytes at %d of piece %d",
				ErrSemanticInvalid, m.Kind, m.Len, m.Begin, m.Index)
		}
	case Piece:
		if !inRange(m.Index) || int64(m.Begin)+int64(len(m.Block)) > int64(g.PieceSize(m.Index)) {
			return fmt.Errorf("%w: block of %d bytes at %d of piece %d",
				ErrSemanticInvalid, len(m.Block), m.Begin, m.Index)
		}
	}
	return nil
}

//Request returns the request msg a Piece msg answers.
func (m *Msg) Request() *Msg {
	return &Msg{
		Kind:  Request,
		Index: m.Index,
		Begin: m.Begin,
		Len:   uint32(len(m.Block)),
	}
}

func (m *Msg) String() string {
	switch m.Kind {
	case Have:
		return fmt.Sprintf("%v #%d", m.Kind, m.Index)
	case Bitfield:
		return fmt.Sprintf("%v %d bytes", m.Kind, len(m.Bf))
	case Request, Cancel:
		return fmt.Sprintf("%v #%d (%d@%d)", m.Kind, m.Index, m.Len, m.Begin)
	case Piece:
		return fmt.Sprintf("%v #%d (%d@%d)", m.Kind, m.Index, len(m.Block), m.Begin)
	default:
		return m.Kind.String()
	}
}

func writeBinary(w io.Writer, data ...interface{}) error {
	var err error
	for _, d := range data {
		err = binary.Write(w, binary.BigEndian, d)
		if err != nil {
			return fmt.Errorf("write binary: %w", err)
		}
	}
	return nil
}
