// Package serial provides a polled, line-oriented reader for serial-attached
// devices that emit newline-delimited text records.
//
// A Reader never reads in the background. The host calls Poll once per tick;
// Poll drains whatever the port has buffered, waiting at most the configured
// read timeout, and returns the completed lines. Partial lines stay in the
// reader until their delimiter arrives, so the result does not depend on how
// the byte stream was chunked by the driver.
//
// Features:
//   - Raw termios configuration via golang.org/x/sys on Linux, go.bug.st/serial elsewhere
//   - Bounded reads gated by poll(2), so a tick returns promptly on an idle line
//   - Whitespace trimming (including '\r') and empty-line suppression
//   - Explicit Closed/Open state: a read fault closes the reader until Reopen
//   - Idempotent Close
//   - PTY-based tests for reliability
//
// Example usage:
//
//	reader, err := serial.Open(serial.Config{
//	    Device:      "/dev/ttyUSB0",
//	    BaudRate:    115200,
//	    ReadTimeout: 50 * time.Millisecond,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//
//	for range time.Tick(16 * time.Millisecond) {
//	    lines, err := reader.Poll()
//	    for _, line := range lines {
//	        fmt.Println("Received:", line)
//	    }
//	    if err != nil {
//	        log.Println("Read error:", err)
//	        break
//	    }
//	}
package serial
