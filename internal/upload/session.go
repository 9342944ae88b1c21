// Package upload implements the per-connection upload session
// (component C4): a small state machine around a temp file and an
// in-flight SHA-256 hash, fed chunk by chunk as the request body
// arrives.
package upload

import (
	"os"
	"sync"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/digestio"
)

// State is one of the session's lifecycle states, per spec §4.4:
// Idle -> Receiving -> Finalized | Aborted.
type State int

const (
	Idle State = iota
	Receiving
	Finalized
	Aborted
)

// Session is single-threaded: spec §4.4 "no concurrency within a
// session." The mutex only serializes misuse (calling ProcessChunk from
// two goroutines) so that writes and hash updates cannot interleave; it
// does not detect or reject such calls.
type Session struct {
	mu      sync.Mutex
	state   State
	file    *os.File
	hasher  *digestio.Hasher
	written int64
	path    string
}

// Start creates a unique temp file under arena and initializes the
// hasher and byte counter, entering the Receiving state.
func Start(arena *digestio.TempArena) (*Session, error) {
	f, err := arena.Create()
	if err != nil {
		return nil, err
	}
	return &Session{
		state:  Receiving,
		file:   f,
		hasher: digestio.NewHasher(),
		path:   f.Name(),
	}, nil
}

// ProcessChunk feeds bytes to the hasher and appends them to the temp
// file in lockstep, per spec §4.4: the two must advance together, and
// a partial failure of either is fatal to the session.
func (s *Session) ProcessChunk(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Receiving {
		return apperr.New(apperr.Transport, "upload session is not receiving")
	}
	if len(chunk) == 0 {
		return nil
	}
	n, err := s.file.Write(chunk)
	if err != nil {
		s.state = Aborted
		return apperr.Wrap(apperr.Transport, err, "write upload chunk")
	}
	if n != len(chunk) {
		s.state = Aborted
		return apperr.New(apperr.Transport, "short write to temp file")
	}
	if _, err := s.hasher.Write(chunk); err != nil {
		s.state = Aborted
		return apperr.Wrap(apperr.Transport, err, "hash upload chunk")
	}
	s.written += int64(n)
	return nil
}

// Result is the outcome of a finished upload session.
type Result struct {
	TempPath string
	Digest   digestio.Digest
	Size     int64
}

// Finish flushes and closes the temp file, entering the Finalized
// state, and returns the accumulated digest and size.
func (s *Session) Finish() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Receiving {
		return Result{}, apperr.New(apperr.Transport, "upload session is not receiving")
	}
	if err := s.file.Sync(); err != nil {
		s.state = Aborted
		return Result{}, apperr.Wrap(apperr.Transport, err, "sync temp file")
	}
	if err := s.file.Close(); err != nil {
		s.state = Aborted
		return Result{}, apperr.Wrap(apperr.Transport, err, "close temp file")
	}
	s.state = Finalized
	return Result{TempPath: s.path, Digest: s.hasher.Sum(), Size: s.written}, nil
}

// Abort closes the handle and deletes the temp file, absorbing I/O
// failures best-effort, per spec §4.4 and the cancellation policy in
// §5: on connection loss mid-upload no catalog writes have been made,
// so no compensation beyond this is required.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Finalized {
		return
	}
	_ = s.file.Close()
	_ = os.Remove(s.path)
	s.state = Aborted
}

// Path returns the session's temp file path.
func (s *Session) Path() string { return s.path }
