//go:build !linux

package stepcounter

import (
	"fmt"
	"io"
	"time"
)

func openLine(name string, debounce time.Duration, onPulse func()) (io.Closer, error) {
	return nil, fmt.Errorf("gpio unsupported on this platform")
}
