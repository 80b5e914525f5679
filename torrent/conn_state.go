package torrent

//connState holds the four flags that govern transfer with one peer.
//amChoking: we refuse to upload to the peer. amInterested: we want a
//piece the peer has. isChoking: the peer refuses to serve us.
//isInterested: the peer wants a piece from us.
type connState struct {
	amInterested bool
	amChoking    bool
	isInterested bool
	isChoking    bool
}

//peers start choked and choking, interested in nothing
func newConnState() connState {
	return connState{
		amChoking: true,
		isChoking: true,
	}
}

func (cs *connState) canUpload() bool {
	return !cs.amChoking && cs.isInterested
}

func (cs *connState) canDownload() bool {
	return !cs.isChoking && cs.amInterested
}

func (cs *connState) String() string {
	compact := func(b bool, set, unset byte) byte {
		if b {
			return set
		}
		return unset
	}
	return string([]byte{
		'[',
		compact(cs.isChoking, 'C', 'c'),
		compact(cs.isInterested, 'I', 'i'),
		'|',
		compact(cs.amChoking, 'C', 'c'),
		compact(cs.amInterested, 'I', 'i'),
		']',
	})
}
