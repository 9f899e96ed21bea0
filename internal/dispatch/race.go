package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/srskip/inferlb/internal/metrics"
	"github.com/srskip/inferlb/internal/registry"
	"github.com/srskip/inferlb/internal/selector"
)

// ErrNoServers is returned when the selector produced no candidates at
// all for the requested model.
var ErrNoServers = errors.New("dispatch: no servers available for model")

// ErrAllFailed is returned when every racer failed to produce a usable
// response.
var ErrAllFailed = errors.New("dispatch: all parallel backends failed")

// BufferedRequest is a client request that has been fully read into
// memory so it can be replayed to every racer. Buffering is required
// because a race fans the same body out to several backends
// concurrently (original_source/src/handler.rs unpack_req).
type BufferedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// RaceOptions mirrors the original's ReqOpt: connect timeout, per-read
// idle timeout, and the measurement window duration.
type RaceOptions struct {
	Timeout     time.Duration
	TimeoutFT   time.Duration
	TimeMeasure time.Duration
}

// RaceResult is the winning racer's replayable response: its status and
// headers, plus a stream that first replays the bytes buffered during
// the measurement window and then continues reading the backend's live
// tail — the same "buffer then chain the live stream" trick as
// send_request_monitored in the original.
type RaceResult struct {
	Addr   string
	Status int
	Header http.Header
	Body   io.ReadCloser
}

type racerOutcome struct {
	addr   string
	status int
	header http.Header
	body   io.ReadCloser
	bytes  int
	err    error
}

// Dispatcher runs races and sequential failovers against the backends
// held in reg, reporting outcomes to reg and to metrics.
type Dispatcher struct {
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// New builds a Dispatcher.
func New(reg *registry.Registry, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{Registry: reg, Metrics: m, Log: log}
}

// Race fans req out to every address in picks, waits for all of them to
// either finish the measurement window or fail, and returns the
// response from whichever racer received the most bytes in-window.
//
// Every racer goroutine always returns nil to its errgroup: a racer's
// own failure is recorded inside racerOutcome.err rather than returned,
// so errgroup.Wait() never cancels sibling racers early. The original
// achieves the same "let every racer run to completion" behaviour with
// tokio::spawn + future::join_all (original_source/src/handler.rs
// handle_chat_parallel), never cancelling a sibling task.
func (d *Dispatcher) Race(ctx context.Context, picks []selector.Pick, req BufferedRequest, opts RaceOptions) (*RaceResult, error) {
	if len(picks) == 0 {
		return nil, ErrNoServers
	}

	outcomes := make([]racerOutcome, len(picks))
	// A plain Group, not errgroup.WithContext: the derived context is
	// cancelled as soon as Wait returns, which would cut off the winner's
	// still-open tail after the race is decided.
	var g errgroup.Group
	for i, p := range picks {
		i, p := i, p
		outcomes[i].addr = p.Addr
		g.Go(func() error {
			outcomes[i] = d.race(ctx, p.Addr, req, opts)
			return nil
		})
	}
	_ = g.Wait()

	bestIdx := -1
	for i, o := range outcomes {
		if o.err != nil {
			d.markLoss(o.addr)
			if d.Metrics != nil {
				d.Metrics.RaceOutcomes.WithLabelValues("fail").Inc()
			}
			continue
		}
		if bestIdx == -1 || o.bytes > outcomes[bestIdx].bytes {
			bestIdx = i
		}
	}

	if bestIdx == -1 {
		return nil, ErrAllFailed
	}

	for i, o := range outcomes {
		if o.err != nil {
			continue
		}
		win := i == bestIdx
		d.markWin(o.addr, win)
		if d.Metrics != nil {
			if win {
				d.Metrics.RaceOutcomes.WithLabelValues("win").Inc()
				d.Metrics.RaceBytesWon.Observe(float64(o.bytes))
			} else {
				d.Metrics.RaceOutcomes.WithLabelValues("lose").Inc()
			}
		}
		if !win {
			o.body.Close()
		}
	}

	// Health is already reconciled above for every racer (win/lose/fail),
	// so the winner's body needs no further wrapping — unlike the
	// sequential dispatcher's reliability ledger, health updates on the
	// racing path are fire-and-forget at selection time, not at stream
	// completion.
	winner := outcomes[bestIdx]
	return &RaceResult{
		Addr:   winner.addr,
		Status: winner.status,
		Header: winner.header,
		Body:   winner.body,
	}, nil
}

func (d *Dispatcher) markWin(addr string, best bool) {
	h := d.Registry.MarkMoreHealthy(addr, best)
	if d.Metrics != nil {
		d.Metrics.ObserveHealth(addr, h.Dead, h.Score)
	}
}

func (d *Dispatcher) markLoss(addr string) {
	h := d.Registry.MarkLessHealthy(addr)
	if d.Metrics != nil {
		d.Metrics.ObserveHealth(addr, h.Dead, h.Score)
	}
}

// race performs a single backend's monitored request: buffer bytes
// until time_measure has elapsed since the first chunk arrived, then
// hand back a stream that replays the buffer followed by the still-open
// tail of the response body.
func (d *Dispatcher) race(ctx context.Context, addr string, req BufferedRequest, opts RaceOptions) racerOutcome {
	client := NewHTTPClient(opts.Timeout, opts.TimeoutFT)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, "http://"+addr+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return racerOutcome{addr: addr, err: err}
	}
	httpReq.Header = req.Header.Clone()

	resp, err := client.Do(httpReq)
	if err != nil {
		return racerOutcome{addr: addr, err: err}
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	var firstChunkAt time.Time
	var readErr error

	for {
		n, rerr := resp.Body.Read(chunk)
		now := time.Now()
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if firstChunkAt.IsZero() {
				firstChunkAt = now
			} else if opts.TimeMeasure > 0 && now.Sub(firstChunkAt) > opts.TimeMeasure {
				break
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				readErr = rerr
			}
			break
		}
	}

	if firstChunkAt.IsZero() && readErr == nil && len(buf) == 0 {
		resp.Body.Close()
		return racerOutcome{addr: addr, err: errors.New("dispatch: no data received from backend")}
	}
	if readErr != nil {
		resp.Body.Close()
		return racerOutcome{addr: addr, err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return racerOutcome{addr: addr, err: &statusError{resp.StatusCode}}
	}

	tail := io.MultiReader(bytes.NewReader(buf), resp.Body)
	return racerOutcome{
		addr:   addr,
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   &bufferedBody{Reader: tail, closer: resp.Body},
		bytes:  len(buf),
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "dispatch: backend returned non-2xx status"
}

// bufferedBody pairs the chained buffer+tail reader with the original
// response body's Closer, so Close still releases the underlying
// connection.
type bufferedBody struct {
	io.Reader
	closer io.Closer
}

func (b *bufferedBody) Close() error { return b.closer.Close() }
