package corestream

import (
	"sync"

	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/rtpstream"
)

// MediaSource is the packet-sourcing collaborator a deployment supplies
// — the role the original server split into its file-format modules
// (QTFileModule et al.), kept out of this package since "where the
// bytes come from" is deployment-specific and not part of session
// lifecycle handling.
type MediaSource interface {
	// Describe returns the session name and track list for path, or
	// ok=false if nothing is published at that path.
	Describe(path string) (sessionName string, medias []rtpstream.MediaDescriptor, ok bool)
	// Sender returns the PacketSender a new RTP Session's first stream
	// on path should adopt, or nil for a source with nothing to push
	// (the session stays idle/paused until some other collaborator
	// adds a stream).
	Sender(path string) rtpsession.PacketSender
}

// StaticSource is an in-memory MediaSource, useful for tests and for
// deployments that serve a fixed, operator-configured track list per
// path rather than reading it from a live file or capture device.
type StaticSource struct {
	mu    sync.RWMutex
	paths map[string]staticEntry
}

type staticEntry struct {
	sessionName string
	medias      []rtpstream.MediaDescriptor
	sender      rtpsession.PacketSender
}

// NewStaticSource returns an empty StaticSource; call Publish to add
// tracks before the server starts accepting SETUP requests for them.
func NewStaticSource() *StaticSource {
	return &StaticSource{paths: make(map[string]staticEntry)}
}

// Publish registers path's SDP track list and the sender its RTP
// Sessions should adopt; sender may be nil.
func (s *StaticSource) Publish(path, sessionName string, medias []rtpstream.MediaDescriptor, sender rtpsession.PacketSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[path] = staticEntry{sessionName: sessionName, medias: medias, sender: sender}
}

// Unpublish removes path.
func (s *StaticSource) Unpublish(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paths, path)
}

func (s *StaticSource) Describe(path string) (string, []rtpstream.MediaDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.paths[path]
	return e.sessionName, e.medias, ok
}

func (s *StaticSource) Sender(path string) rtpsession.PacketSender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paths[path].sender
}
