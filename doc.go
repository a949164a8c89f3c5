// Package exsi provides a Go SDK for the EXSI scanner-control protocol.
//
// A Client holds one persistent TCP session with a scanner controller. It
// issues sequential text commands (LoadProtocol, SelectTask, Prescan, Scan,
// ...) and interprets the asynchronous events the controller pushes back.
// Orchestration code blocks on named condition signals until the milestone a
// later command depends on has been reached.
//
// # Basic Usage
//
//	cfg, err := exsi.LoadConfig("scanner.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = exsi.WithClient(ctx, func(c exsi.Client) error {
//	    if err := c.LoadProtocol(ctx, "BPT_EXSI"); err != nil {
//	        return err
//	    }
//
//	    if _, err := c.WaitFor(ctx, exsi.SignalProtocolReady, time.Minute); err != nil {
//	        return err
//	    }
//
//	    keys, err := c.TaskKeys(ctx)
//	    if err != nil {
//	        return err
//	    }
//
//	    fmt.Println("tasks:", keys)
//
//	    return nil
//	}, exsi.WithConfig(cfg))
//
// # Process Isolation
//
// WithIsolation runs the session in a worker process. The client spawns the
// worker (the running executable by default), relays its stderr as log
// lines and forwards each operation as a request on the worker's stdin. A
// crash in the worker fails pending calls with ProcessError instead of
// taking the caller down. Programs using isolation must hand the "worker"
// argument to ServeWorker.
//
// # Logging
//
// For detailed operation tracking, use WithLogger:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
//	client := exsi.NewClient()
//	err := client.Start(ctx, exsi.WithConfig(cfg), exsi.WithLogger(logger))
//
// # Error Handling
//
// The SDK provides typed errors for different failure scenarios:
//
//	if err := c.ActivateTask(ctx); err != nil {
//	    if busy, ok := errors.AsType[*exsi.BusyError](err); ok {
//	        log.Printf("%s still in flight", busy.InFlight)
//	    }
//	    if cmdErr, ok := errors.AsType[*exsi.CommandError](err); ok {
//	        log.Fatalf("controller refused %s: %s", cmdErr.Command, cmdErr.Reply)
//	    }
//	    log.Fatal(err)
//	}
package exsi
