package timer

import "errors"

var errClosed = errors.New("scheduler closed")
