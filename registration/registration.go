// Package registration groups the per-process setup a listener or
// client shares across every Connection it owns: the leveled logger and
// correlation-id issuance (spec.md §6 "management surface... registration",
// out of scope for the core but needed to wire the rest together).
package registration

import (
	"sync/atomic"

	"github.com/google/uuid"
	logging "github.com/op/go-logging"

	"github.com/kryptco/quicconn"
)

// Registration is the shared context a process hands to every
// Connection it creates: a logger prefix and a monotonic counter used
// to make short, stable per-connection trace tags.
type Registration struct {
	name    string
	counter uint64

	logger *logging.Logger
}

// New sets up logging via quicconn.SetupLogging and returns a
// Registration scoped to name (e.g. "quicconndemo-server").
func New(name string, level logging.Level, trySyslog bool) *Registration {
	return &Registration{
		name:   name,
		logger: quicconn.SetupLogging(name, level, trySyslog),
	}
}

// NextTag returns a short, process-unique tag for a new connection's log
// lines, independent of its correlation uuid (cheaper to print, cheap to
// compare when grepping).
func (r *Registration) NextTag() string {
	n := atomic.AddUint64(&r.counter, 1)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(r.name)).String()[:8] + "-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
