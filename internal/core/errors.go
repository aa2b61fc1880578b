package core

import (
	"errors"
	"fmt"
	"kakigoori-worker/internal/messaging"
)

// Per-job failures. These are logged by the consumer loop and the message is
// acknowledged anyway.
var (
	ErrMalformedMessage = messaging.ErrMalformedMessage
	ErrScratchWrite     = errors.New("error writing scratch file")
	ErrScratchRead      = errors.New("error reading scratch file")
	ErrScratchCleanup   = errors.New("error removing scratch file")
	ErrEncodeFailure    = errors.New("encoder exited with an error")
	ErrLaunchFailure    = errors.New("encoder could not be started")
	ErrPublishFailure   = errors.New("error publishing task response")
)

// Startup failures are fatal to the process; a stream failure is fatal to
// one consumer loop.
var (
	ErrBrokerConnect = errors.New("error connecting to broker")
	ErrQueueSetup    = errors.New("error setting up queues")
	ErrStreamFailure = errors.New("message stream ended abnormally")
)

type EncodeError struct {
	Format   string
	ExitCode int
	Output   []byte
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s encoder exited with status %d", e.Format, e.ExitCode)
}

func (e *EncodeError) Is(target error) bool {
	return target == ErrEncodeFailure
}
