package rtspsession

import (
	"encoding/base64"
	"io"
)

// tunnelWriter base64-encodes each Write call independently, matching
// the HTTP tunnel's GET-response body: the server writes
// one whole RTSP message or interleaved frame per call, never a raw
// byte stream, so per-call encoding needs no cross-write buffering.
type tunnelWriter struct {
	w io.Writer
}

func (t tunnelWriter) Write(p []byte) (int, error) {
	enc := base64.StdEncoding.EncodeToString(p)
	if _, err := io.WriteString(t.w, enc); err != nil {
		return 0, err
	}
	return len(p), nil
}

// tunnelReader decodes the continuous base64 stream carried in the
// POST side's request body back into raw RTSP bytes.
func tunnelReader(r io.Reader) io.Reader {
	return base64.NewDecoder(base64.StdEncoding, r)
}
