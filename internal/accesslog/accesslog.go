// Package accesslog writes one structured JSON line per completed RTSP
// request. It is the only consumer of zerolog in this module: the
// teacher (gtfodev-camsRelay) declares rs/zerolog in go.mod but never
// calls it, using log/slog everywhere instead. We keep that split
// deliberately — slog for general subsystem logging (internal/corelog),
// zerolog for this hot per-request path, where its allocation-free
// JSON writer matters more than slog's more general handler chain.
//
// Log rotation and persistence of the resulting file are treated as an
// external collaborator's concern and are not implemented
// here; this package only produces the stream of entries.
package accesslog

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Entry describes one completed RTSP request/response exchange.
type Entry struct {
	RemoteAddr   string
	SessionID    string
	Method       string
	Path         string
	CSeq         int
	Status       int
	BytesWritten int
	Duration     time.Duration
}

// Writer emits Entry values as zerolog JSON lines.
type Writer struct {
	logger zerolog.Logger
}

// New wraps out (typically an *os.File opened by the admin/daemon
// launcher) as an access-log Writer.
func New(out io.Writer) *Writer {
	return &Writer{logger: zerolog.New(out).With().Timestamp().Logger()}
}

// Log appends one access-log entry.
func (w *Writer) Log(e Entry) {
	w.logger.Info().
		Str("remote_addr", e.RemoteAddr).
		Str("session_id", e.SessionID).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("cseq", e.CSeq).
		Int("status", e.Status).
		Int("bytes_written", e.BytesWritten).
		Dur("duration", e.Duration).
		Msg("rtsp_request")
}
