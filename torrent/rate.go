package torrent

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

//rateWindow is the measurement window of a Rate.
const rateWindow = 20 * time.Second

//rateSerial hands out the identity used to break comparison ties, so
//that ordering peers by rate stays a strict weak order even when two
//peers transfer at the same speed.
var rateSerial atomic.Uint64

//Rate is a windowed throughput counter. The swarm level choker ranks
//peers with it. Safe for concurrent use.
type Rate struct {
	id uint64

	mu          sync.Mutex
	bytes       int64
	windowStart time.Time
}

func NewRate() *Rate {
	return &Rate{
		id:          rateSerial.Inc(),
		windowStart: time.Now(),
	}
}

//Add accumulates n transferred bytes into the current window.
func (r *Rate) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll()
	r.bytes += n
}

//Get returns bytes per second over the current window.
func (r *Rate) Get() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll()
	elapsed := time.Since(r.windowStart).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(r.bytes) / elapsed
}

func (r *Rate) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes = 0
	r.windowStart = time.Now()
}

//lock is held during this call
func (r *Rate) roll() {
	if time.Since(r.windowStart) > rateWindow {
		r.bytes = 0
		r.windowStart = time.Now()
	}
}

//RateLess orders two rates ascending, breaking ties by construction
//identity.
func RateLess(a, b *Rate) bool {
	ra, rb := a.Get(), b.Get()
	if ra == rb {
		return a.id < b.id
	}
	return ra < rb
}

//ByDownloadRate sorts peers by ascending download rate.
type ByDownloadRate []*SharingPeer

func (br ByDownloadRate) Len() int { return len(br) }

func (br ByDownloadRate) Less(i, j int) bool {
	return RateLess(br[i].DownloadRate(), br[j].DownloadRate())
}

func (br ByDownloadRate) Swap(i, j int) {
	br[i], br[j] = br[j], br[i]
}

//ByUploadRate sorts peers by ascending upload rate.
type ByUploadRate []*SharingPeer

func (br ByUploadRate) Len() int { return len(br) }

func (br ByUploadRate) Less(i, j int) bool {
	return RateLess(br[i].UploadRate(), br[j].UploadRate())
}

func (br ByUploadRate) Swap(i, j int) {
	br[i], br[j] = br[j], br[i]
}
