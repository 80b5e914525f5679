package torrent

import (
	"fmt"
	"net"
	"strconv"
)

//Peer identifies a remote peer as the tracker announced it. Two peers
//are the same iff their IDs are equal, regardless of address.
type Peer struct {
	IP   string
	Port uint16
	ID   [20]byte
}

func (p Peer) Equal(other Peer) bool {
	return p.ID == other.ID
}

//Addr returns the dialable host:port of the peer.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(int(p.Port)))
}

func (p Peer) String() string {
	return fmt.Sprintf("%s (%s)", p.Addr(), shortID(p.ID))
}

//shortID renders a peer id with every non-printable byte replaced by a
//dot, enough to tell peers apart in logs without dumping raw bytes.
func shortID(id [20]byte) string {
	out := make([]byte, 0, len(id))
	for _, b := range id {
		if b >= ' ' && b <= '~' {
			out = append(out, b)
		} else {
			out = append(out, '.')
		}
	}
	return string(out)
}
