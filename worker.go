package exsi

import (
	"context"
	"io"
	"os"

	"github.com/wagiedev/exsi-sdk-go/internal/bridge"
	"github.com/wagiedev/exsi-sdk-go/internal/config"
)

// WorkerCommand is the argument an isolated client passes to the worker
// executable.
const WorkerCommand = config.DefaultWorkerCommand

// ServeWorker runs the worker side of an isolated client on stdin and
// stdout until stdin closes or ctx is done. Logs should go to stderr, which
// the client relays. Only WithLogger, WithMetrics and WithTransport apply.
//
//	func main() {
//	    if len(os.Args) > 1 && os.Args[1] == exsi.WorkerCommand {
//	        if err := exsi.ServeWorker(ctx, exsi.WithLogger(stderrLogger)); err != nil {
//	            os.Exit(1)
//	        }
//	        return
//	    }
//	    ...
//	}
func ServeWorker(ctx context.Context, opts ...Option) error {
	return serveWorker(ctx, os.Stdin, os.Stdout, opts...)
}

func serveWorker(ctx context.Context, in io.Reader, out io.Writer, opts ...Option) error {
	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	handlerOpts := bridge.HandlerOptions{
		Logger:  log,
		Metrics: options.Metrics,
	}

	if tr := options.Transport; tr != nil {
		handlerOpts.Transport = func(*config.Config) config.Transport { return tr }
	}

	return bridge.Serve(ctx, log, in, out, bridge.NewSessionHandler(handlerOpts))
}
