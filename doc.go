// Package serialhub ingests newline-delimited JSON records from a
// serial-attached device, classifies each record by content, decodes it into
// a typed payload and broadcasts the payload to subscribers.
//
// The pipeline is driven by a host tick. Each Hub.Tick polls the serial
// reader once, then for every completed line, in arrival order:
//
//	raw line -> classify.Classifier -> payload.Decoder -> dispatch.Dispatcher -> callbacks
//
// Unclassified lines, decode failures, callback failures and read faults are
// returned in the TickReport and logged; none of them stops the loop. A read
// fault closes the reader until it is reopened, which Run does on its own
// at the configured reopen interval.
//
// Example usage:
//
//	reader := serial.New(serial.Config{Device: "/dev/ttyUSB0", BaudRate: 115200})
//	hub := serialhub.New(reader, serialhub.WithLogger(log))
//
//	hub.OnCarStatus(func(s payload.CarStatus) error {
//	    fmt.Println("car moving:", s.IsMoving)
//	    return nil
//	})
//	hub.OnGesture(func(g payload.GestureSample) error {
//	    fmt.Println("acc:", g.Acc)
//	    return nil
//	})
//
//	// Run opens the port, ticks until ctx is cancelled and closes the port.
//	if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
package serialhub
