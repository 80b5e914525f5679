package torrent

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

//connStats counts what actually crossed the wire with one peer.
type connStats struct {
	uploadUsefulBytes   int64
	downloadUsefulBytes int64
	blocksDownloaded    int
	blocksUploaded      int
	//initially it holds the time we started the first download
	lastReceivedPieceMsg time.Time
	snubbed              bool
}

func (cs *connStats) onBlockDownload(len int) {
	cs.downloadUsefulBytes += int64(len)
	cs.blocksDownloaded++
	cs.lastReceivedPieceMsg = time.Now()
	cs.snubbed = false
}

func (cs *connStats) onBlockUpload(len int) {
	cs.blocksUploaded++
	cs.uploadUsefulBytes += int64(len)
}

//startDownload stamps the snub clock the first time we enter a
//download, so a peer that never sends a single block still counts as
//snubbing us.
func (cs *connStats) startDownload() {
	if cs.lastReceivedPieceMsg.IsZero() {
		cs.lastReceivedPieceMsg = time.Now()
	}
}

func (cs *connStats) isSnubbed() bool {
	if cs.snubbed {
		return true
	}
	cs.snubbed = !cs.lastReceivedPieceMsg.IsZero() &&
		time.Since(cs.lastReceivedPieceMsg) >= time.Minute
	return cs.snubbed
}

func (cs *connStats) String() string {
	return fmt.Sprintf(`bytes downloaded: %s
	bytes uploaded: %s
	blocks downloaded: %d
	blocks uploaded: %d`, humanize.Bytes(uint64(cs.downloadUsefulBytes)),
		humanize.Bytes(uint64(cs.uploadUsefulBytes)),
		cs.blocksDownloaded,
		cs.blocksUploaded)
}
