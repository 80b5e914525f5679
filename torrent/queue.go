package torrent

import "github.com/davidgiffin/ttorrent/peer_wire"

//requestQueue is the bounded FIFO of Request msgs we have on flight
//towards a peer. Capacity is maxPipelinedRequests; producers are gated
//by the capacity check so no blocking is involved.
type requestQueue struct {
	msgs []*peer_wire.Msg
	len  int
}

func newRequestQueue(len int) *requestQueue {
	return &requestQueue{
		len: len,
	}
}

func (q *requestQueue) push(msg *peer_wire.Msg) bool {
	if !q.full() {
		q.msgs = append(q.msgs, msg)
		return true
	}
	return false
}

func (q *requestQueue) peek() (head *peer_wire.Msg) {
	if q.empty() {
		return
	}
	head = q.msgs[0]
	return
}

func (q *requestQueue) pop() (head *peer_wire.Msg) {
	if q.empty() {
		return
	}
	head = q.msgs[0]
	q.msgs = q.msgs[1:]
	return
}

//removeMatch deletes and returns the first queued request for the given
//piece and offset, nil if none is queued.
func (q *requestQueue) removeMatch(index, begin uint32) *peer_wire.Msg {
	for i, msg := range q.msgs {
		if msg.Index == index && msg.Begin == begin {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return msg
		}
	}
	return nil
}

//snapshot copies the queued requests in FIFO order.
func (q *requestQueue) snapshot() []*peer_wire.Msg {
	out := make([]*peer_wire.Msg, len(q.msgs))
	copy(out, q.msgs)
	return out
}

func (q *requestQueue) clear() {
	q.msgs = nil
}

func (q *requestQueue) size() int {
	return len(q.msgs)
}

func (q *requestQueue) empty() bool {
	return len(q.msgs) == 0
}

func (q *requestQueue) full() bool {
	return len(q.msgs) == q.len
}
