package quicconn

import (
	"encoding/binary"
	"net"
	"time"
)

// ParamID enumerates the bounded, typed parameter surface from spec.md
// §4.9. Each has a fixed size expectation and a state-legal phase.
type ParamID int

const (
	ParamLocalAddress ParamID = iota
	ParamRemoteAddress
	ParamStatistics
	ParamIdleTimeout
	ParamCloseReasonPhrase
	ParamSettings
)

func (p ParamID) String() string {
	switch p {
	case ParamLocalAddress:
		return "LOCAL_ADDRESS"
	case ParamRemoteAddress:
		return "REMOTE_ADDRESS"
	case ParamStatistics:
		return "STATISTICS"
	case ParamIdleTimeout:
		return "IDLE_TIMEOUT"
	case ParamCloseReasonPhrase:
		return "CLOSE_REASON_PHRASE"
	case ParamSettings:
		return "SETTINGS"
	default:
		return "UNKNOWN"
	}
}

// ParamSet implements spec.md §4.9 ParamSet: bounded, typed, synchronous,
// and never terminal — failures are returned, not turned into a close.
func (c *Connection) ParamSet(param ParamID, value interface{}) error {
	switch param {
	case ParamRemoteAddress:
		addr, ok := value.(*net.UDPAddr)
		if !ok {
			return newParamError(ParamErrInvalidParameter, param)
		}
		if c.flags.has(flagStarted) {
			return newParamError(ParamErrInvalidState, param)
		}
		c.addrs.remote = addr
		c.addrs.remoteAddrSet = true
		c.flags.set(flagRemoteAddressSet)
		return nil

	case ParamLocalAddress:
		addr, ok := value.(*net.UDPAddr)
		if !ok {
			return newParamError(ParamErrInvalidParameter, param)
		}
		if !c.flags.has(flagConnected) {
			// pre-Connected: a plain assignment, no live migration needed yet.
			c.addrs.local = addr
			c.addrs.localAddrSet = true
			return nil
		}
		// post-Connected: triggers a live binding migration (spec.md §4.9);
		// migration itself is a Non-goal, so this only records the intent
		// and lets the binding collaborator decide what it can honor.
		if c.binding != nil {
			c.binding.MoveSourceCIDs(c, addr)
		}
		c.addrs.local = addr
		return nil

	case ParamIdleTimeout:
		d, ok := value.(int64)
		if !ok {
			return newParamError(ParamErrInvalidParameter, param)
		}
		c.config.IdleTimeout = time.Duration(d)
		return nil

	default:
		return newParamError(ParamErrInvalidParameter, param)
	}
}

// ParamGet implements spec.md §4.9 ParamGet, writing into a
// caller-supplied buffer and reporting BUFFER_TOO_SMALL rather than
// truncating.
func (c *Connection) ParamGet(param ParamID, out []byte) (n int, err error) {
	switch param {
	case ParamLocalAddress:
		return c.getAddrParam(c.addrs.local, c.addrs.localAddrSet, param, out)

	case ParamRemoteAddress:
		return c.getAddrParam(c.addrs.remote, c.addrs.remoteAddrSet, param, out)

	case ParamStatistics:
		need := statsEncodedSize
		if len(out) < need {
			return 0, newParamError(ParamErrBufferTooSmall, param)
		}
		encodeStats(out, &c.stats)
		return need, nil

	case ParamCloseReasonPhrase:
		if c.closeState.reason == "" {
			return 0, newParamError(ParamErrNotFound, param)
		}
		if len(out) < len(c.closeState.reason) {
			return 0, newParamError(ParamErrBufferTooSmall, param)
		}
		return copy(out, c.closeState.reason), nil

	default:
		return 0, newParamError(ParamErrInvalidParameter, param)
	}
}

func (c *Connection) getAddrParam(addr *net.UDPAddr, set bool, param ParamID, out []byte) (int, error) {
	if !set || addr == nil {
		return 0, newParamError(ParamErrNotFound, param)
	}
	ip := addr.IP.To16()
	if ip == nil {
		return 0, newParamError(ParamErrInvalidState, param)
	}
	const need = 16 + 2
	if len(out) < need {
		return 0, newParamError(ParamErrBufferTooSmall, param)
	}
	copy(out, ip)
	binary.BigEndian.PutUint16(out[16:], uint16(addr.Port))
	return need, nil
}
