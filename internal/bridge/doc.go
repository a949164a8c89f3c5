// Package bridge hosts a protocol session in a separate worker process.
//
// The caller side (Start, Bridge.Call, Bridge.Stop) spawns the worker,
// writes one JSON request per line to its stdin and routes the JSON
// responses on its stdout back to the waiting call by request ID. The
// worker's stderr is relayed line by line to a log sink.
//
// The worker side (Serve with a SessionHandler) decodes each request into
// one of the Request types, performs it against its session and answers
// in acceptance order, one request at a time. End of input is the
// worker's shutdown signal.
//
// Errors cross the bridge as an ErrorDescriptor and are rebuilt into the
// same typed errors the in-process session returns:
//
//	b, err := bridge.Start(ctx, &config.BridgeOptions{Logger: log})
//	if err != nil {
//		return err
//	}
//	defer b.Stop(context.Background())
//
//	client := bridge.NewClient(b)
//	if err := client.Connect(ctx, cfg); err != nil {
//		return err
//	}
package bridge
