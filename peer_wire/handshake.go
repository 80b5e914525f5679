package peer_wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const protoLen byte = 19

var proto = [...]byte{
	'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't',
	' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l',
}

//HandShake is exchanged once right after the TCP connection is set up,
//before any framed message. Reserved bytes are all zero, we speak no
//extensions.
type HandShake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

//Initiate performs the handshake from the dialing side: write ours,
//read theirs, ensure the info_hash matches. On error the connection
//should be closed.
func (h *HandShake) Initiate(conn io.ReadWriter) (*HandShake, error) {
	if err := h.write(conn); err != nil {
		return nil, fmt.Errorf("initiate: %w", err)
	}
	peerHs, err := readHs(conn)
	if err != nil {
		return nil, fmt.Errorf("initiate: %w", err)
	}
	if h.InfoHash != peerHs.InfoHash {
		return nil, errors.New("initiate: info_hash response doesn't match ours")
	}
	return peerHs, nil
}

//Receipt performs the handshake from the accepting side. h.InfoHash
//must be zero, it is filled in from the initiator's handshake after
//ihashes confirms we manage that torrent.
func (h *HandShake) Receipt(conn io.ReadWriter, ihashes map[[20]byte]struct{}) (*HandShake, error) {
	peerHs, err := readHs(conn)
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	if _, ok := ihashes[peerHs.InfoHash]; !ok {
		return nil, errors.New("receipt: client doesn't manage this info_hash")
	}
	h.InfoHash = peerHs.InfoHash
	if err = h.write(conn); err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	return peerHs, nil
}

func (h *HandShake) write(conn io.Writer) error {
	var b bytes.Buffer
	if err := writeBinary(&b, protoLen, proto, h); err != nil {
		panic(err)
	}
	if _, err := conn.Write(b.Bytes()); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func readHs(conn io.Reader) (*HandShake, error) {
	pstr := make([]byte, 20)
	if _, err := io.ReadFull(conn, pstr); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if pstr[0] != protoLen || !bytes.Equal(pstr[1:], proto[:]) {
		return nil, errors.New("proto or protoLen are not the right one(s)")
	}
	buf := make([]byte, 48)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	h := new(HandShake)
	if err := binary.Read(bytes.NewBuffer(buf), binary.BigEndian, h); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return h, nil
}
