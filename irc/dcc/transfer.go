package dcc

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const (
	connectTimeout = 30 * time.Second
	chunkSize      = 4096
)

// readIdleTimeout bounds every read even without a context deadline; a peer
// that connects and then stalls must not hang the transfer forever.
var readIdleTimeout = 30 * time.Second

// ProgressFunc is invoked after each chunk with the running byte count, the
// declared total and the completion percentage.
type ProgressFunc func(received, total int64, percent float64)

// TransferResult reports the outcome of a single transfer attempt. A transfer
// succeeds only when the received byte count equals the declared size; a
// short read is a failure carrying both counts for diagnostics.
type TransferResult struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath,omitempty"`
	Received int64  `json:"received"`
	Expected int64  `json:"expected"`
	Error    string `json:"error,omitempty"`
}

// Download connects to the offer's endpoint and copies exactly the declared
// number of bytes into outputPath. Blocking by design; callers run it on a
// dedicated worker. The context deadline bounds both the dial and every read.
func Download(ctx context.Context, offer *Offer, outputPath string, progress ProgressFunc) *TransferResult {
	res := &TransferResult{Expected: offer.Size}

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", offer.PeerAddr, offer.PeerPort))
	if err != nil {
		res.Error = fmt.Sprintf("connect to %s:%d failed: %v", offer.PeerAddr, offer.PeerPort, err)
		return res
	}
	defer conn.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		res.Error = fmt.Sprintf("create %s failed: %v", outputPath, err)
		return res
	}
	defer out.Close()

	buf := make([]byte, chunkSize)
	var received int64
	for received < offer.Size {
		readBy := time.Now().Add(readIdleTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(readBy) {
			readBy = d
		}
		_ = conn.SetReadDeadline(readBy)

		want := int64(chunkSize)
		if remaining := offer.Size - received; remaining < want {
			want = remaining
		}
		n, err := conn.Read(buf[:want])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				res.Received = received
				res.Error = fmt.Sprintf("write failed: %v", werr)
				return res
			}
			received += int64(n)
			if progress != nil {
				progress(received, offer.Size, float64(received)/float64(offer.Size)*100)
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			res.Received = received
			res.Error = fmt.Sprintf("read failed: %v", err)
			return res
		}
	}

	res.Received = received
	res.FilePath = outputPath
	if received != offer.Size {
		res.Error = fmt.Sprintf("transfer incomplete: %d/%d bytes", received, offer.Size)
		return res
	}
	res.Success = true
	return res
}
