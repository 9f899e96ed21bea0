package dispatch

import (
	"io"
	"sync"

	"github.com/srskip/inferlb/internal/registry"
)

// streamTail wraps a sequentially-dispatched backend's response body so
// the busy flag is always released on Close, and the reliability ledger
// is updated at most once by whichever read outcome the stream actually
// reaches: a clean EOF marks the backend Reliable, any other read error
// demotes it. A stream that is closed early (client disconnect) without
// ever reaching EOF or an error releases busy but leaves reliability
// untouched, matching the original's ResponseBodyWithGuard
// (original_source/src/handler.rs): its Drop guard unconditionally
// clears busy, but poll_next only updates failure_record on Some(Err)
// or a clean None, never on an early drop.
type streamTail struct {
	reg       *registry.Registry
	addr      string
	body      io.ReadCloser
	closeOnce sync.Once
	relOnce   sync.Once
}

func newStreamTail(reg *registry.Registry, addr string, body io.ReadCloser) *streamTail {
	return &streamTail{reg: reg, addr: addr, body: body}
}

func (s *streamTail) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if err != nil {
		if err == io.EOF {
			s.relOnce.Do(func() { s.reg.PromoteReliability(s.addr) })
		} else {
			s.relOnce.Do(func() { s.reg.DemoteReliability(s.addr) })
		}
	}
	return n, err
}

func (s *streamTail) Close() error {
	s.closeOnce.Do(func() { s.reg.SetBusy(s.addr, false) })
	return s.body.Close()
}
