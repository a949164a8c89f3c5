package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/wagiedev/exsi-sdk-go/internal/errors"
)

const (
	// maxRequestSize bounds one request line.
	maxRequestSize = 1024 * 1024 // 1MB

	// requestBacklog is how many decoded requests may wait behind the one
	// being served.
	requestBacklog = 16
)

// Handler serves decoded requests inside the worker. Serve calls Handle
// for one request at a time and Close once when serving ends.
type Handler interface {
	// Handle performs req and returns a JSON-encodable result.
	Handle(ctx context.Context, req Request) (any, error)

	// Close releases the handler's resources.
	Close() error
}

// incoming is one line read from the request stream.
type incoming struct {
	id  string
	req Request
	err error
}

// Serve reads newline-delimited requests from in and writes one response
// per request to out, in acceptance order, one request at a time.
//
// End of input and ctx cancellation are both shutdown signals: the request
// being served sees its context cancelled, requests still queued are
// answered with ShutdownError, and the handler is closed. Serve returns nil
// on an orderly shutdown.
func Serve(ctx context.Context, log *slog.Logger, in io.Reader, out io.Writer, handler Handler) error {
	log = log.With("component", "bridge_server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan incoming, requestBacklog)

	// Not joined: a blocked read on stdin cannot be interrupted, and the
	// process exits right after Serve returns.
	go readRequests(ctx, log, in, requests, cancel)

	w := &responseWriter{enc: json.NewEncoder(out)}

	defer func() {
		if err := handler.Close(); err != nil {
			log.Warn("Handler close failed", "error", err)
		}
	}()

	log.Info("Serving bridge requests")

	for {
		select {
		case item, ok := <-requests:
			if !ok {
				log.Info("Request stream closed")

				return w.err
			}

			if err := serveOne(ctx, log, w, handler, item); err != nil {
				return err
			}

		case <-ctx.Done():
			log.Info("Shutdown requested, draining queued requests")

			for {
				select {
				case item, ok := <-requests:
					if !ok {
						return w.err
					}

					w.fail(item.id, &errors.ShutdownError{Op: methodOf(item)})
				default:
					return w.err
				}
			}
		}
	}
}

// readRequests decodes request lines until end of input, then cancels the
// serving context and closes requests.
func readRequests(
	ctx context.Context,
	log *slog.Logger,
	in io.Reader,
	requests chan<- incoming,
	cancel context.CancelFunc,
) {
	defer close(requests)
	defer cancel()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxRequestSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		item := decodeLine(line)

		select {
		case requests <- item:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Error("Request stream read failed", "error", err)

		return
	}

	log.Debug("Request stream reached end of input")
}

func decodeLine(line []byte) incoming {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return incoming{err: fmt.Errorf("decode request envelope: %w", err)}
	}

	req, err := DecodeRequest(env.Method, env.Params)
	if err != nil {
		return incoming{id: env.ID, err: err}
	}

	return incoming{id: env.ID, req: req}
}

func serveOne(ctx context.Context, log *slog.Logger, w *responseWriter, handler Handler, item incoming) error {
	if item.err != nil {
		log.Warn("Rejecting malformed request", "request_id", item.id, "error", item.err)
		w.fail(item.id, item.err)

		return w.err
	}

	if ctx.Err() != nil {
		w.fail(item.id, &errors.ShutdownError{Op: item.req.Method()})

		return w.err
	}

	log.Debug("Handling request", "request_id", item.id, "method", item.req.Method())

	result, err := handler.Handle(ctx, item.req)
	if err != nil {
		log.Debug("Request failed", "request_id", item.id, "method", item.req.Method(), "error", err)
		w.fail(item.id, err)

		return w.err
	}

	w.succeed(item.id, result)

	return w.err
}

func methodOf(item incoming) string {
	if item.req == nil {
		return "request"
	}

	return item.req.Method()
}

// responseWriter encodes responses and remembers the first write failure.
type responseWriter struct {
	enc *json.Encoder
	err error
}

func (w *responseWriter) succeed(id string, result any) {
	if result == nil {
		result = struct{}{}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		w.fail(id, fmt.Errorf("encode result: %w", err))

		return
	}

	w.write(&response{ID: id, Result: raw})
}

func (w *responseWriter) fail(id string, err error) {
	w.write(&response{ID: id, Error: describeError(err)})
}

func (w *responseWriter) write(resp *response) {
	if w.err != nil {
		return
	}

	if err := w.enc.Encode(resp); err != nil {
		w.err = fmt.Errorf("write response: %w", err)
	}
}
