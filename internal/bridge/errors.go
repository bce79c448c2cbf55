package bridge

import "errors"

// errUnsupported reports that terminal settings cannot be read on this
// platform; the bridge then carries data only.
var errUnsupported = errors.New("termios not supported on this platform")
