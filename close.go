package quicconn

import "time"

// closeFlags parameterizes TryClose (spec.md §4.5): whether the peer is
// told at all, whether the reason is an application error, and whether
// this is a transport-detected failure (silent, e.g. idle timeout).
type closeFlags struct {
	silent     bool
	appError   bool
	remote     bool // set when this close was driven by a received CONNECTION_CLOSE
}

// closeState tracks the draining/closing machine from spec.md §4.5.
type closeState struct {
	errorCode  uint64
	reason     string
	cause      error
	closedByApp bool
	ptoRetransmitsRemaining int
}

// tryCloseInternal implements spec.md §4.5 TryClose. Transition 1: a
// repeat close on an already-closed side is a no-op, except that a
// forced SILENT after local close still must promote ShutdownComplete.
// Transition 2/3: the first close on either side enters draining
// (remote-initiated) or closing (local-initiated) period. Transition 4:
// once both sides have closed, clients clean up immediately and servers
// enter one more trailing drain.
func (c *Connection) tryCloseInternal(flags closeFlags, errorCode uint64, reason string, cause error) {
	closedLocallyBefore := c.flags.has(flagClosedLocally)
	closedRemotelyBefore := c.flags.has(flagClosedRemotely)
	alreadyClosedThisSide := flags.remote && closedRemotelyBefore || !flags.remote && closedLocallyBefore

	if alreadyClosedThisSide {
		if flags.silent && closedLocallyBefore {
			c.flags.set(flagSendShutdownCompleteNotif)
		}
		return
	}

	if flags.remote {
		c.flags.set(flagClosedRemotely)
	} else {
		c.flags.set(flagClosedLocally)
	}

	bothClosedNow := c.flags.has(flagClosedLocally) && c.flags.has(flagClosedRemotely)
	firstCloseOverall := !closedLocallyBefore && !closedRemotelyBefore

	if firstCloseOverall {
		c.closeState = closeState{
			errorCode:   errorCode,
			reason:      reason,
			cause:       cause,
			closedByApp: flags.appError,
		}
		c.cancelAllTimersExcept(timerShutdown)
		if c.streams != nil {
			c.streams.ShutdownAll(errorCode, flags.appError)
		}
	}

	switch {
	case flags.silent:
		c.timerSet(timerShutdown, 0)

	case bothClosedNow:
		// peer acked our close (or we acked theirs): clients are done,
		// servers linger once more in case of retransmitted closes.
		if c.role == RoleClient {
			c.timerSet(timerShutdown, 0)
		} else {
			c.timerSet(timerShutdown, c.drainPeriodDuration())
		}

	case flags.remote:
		if c.role == RoleClient && !c.flags.has(flagHandshakeConfirmed) {
			// mid-handshake client: force silent, nothing useful to send back.
			c.timerSet(timerShutdown, 0)
		} else {
			c.setSendFlag(SendFlagConnectionClose)
			c.timerSet(timerShutdown, c.drainPeriodDuration())
		}

	default: // local initiates, first close
		c.setSendFlag(SendFlagConnectionClose)
		c.closeState.ptoRetransmitsRemaining = int(c.config.ClosePTOCount)
		c.timerSet(timerShutdown, c.probeTimeoutOrDefault())
	}

	if firstCloseOverall {
		kind := EventShutdownInitiatedByTransport
		if flags.remote || flags.appError {
			kind = EventShutdownInitiatedByPeer
		}
		c.emit(Event{Kind: kind, ErrorCode: errorCode, AppClosed: flags.appError})
	}
}

// probeTimeoutOrDefault asks the loss-detection collaborator for its
// current PTO, falling back to a conservative default before any RTT
// sample exists (spec.md §4.5, §4.6).
func (c *Connection) probeTimeoutOrDefault() time.Duration {
	if c.loss != nil {
		if pto := c.loss.ProbeTimeout(); pto > 0 {
			return pto
		}
	}
	return 3 * time.Second
}

// onShutdownTimerExpired drives the SHUTDOWN timer's retransmit-then-stop
// behavior (spec.md §4.5): retransmit CONNECTION_CLOSE up to
// ClosePTOCount times, re-arming the timer for 2*PTO after each one, then
// set ClosedRemotely and SendShutdownCompleteNotif so the next drain pass
// runs onShutdownComplete.
func (c *Connection) onShutdownTimerExpired() {
	if c.closeState.ptoRetransmitsRemaining > 0 {
		c.closeState.ptoRetransmitsRemaining--
		c.setSendFlag(SendFlagConnectionClose)
		c.opQueue.enqueue(&operation{kind: opFlushSend})
		c.timerSet(timerShutdown, 2*c.probeTimeoutOrDefault())
		return
	}
	c.flags.set(flagClosedRemotely)
	c.flags.set(flagSendShutdownCompleteNotif)
}

// onShutdownComplete finalizes the connection (spec.md Lifecycle:
// "ShutdownComplete"), emitting exactly one terminal event and marking
// HandleClosed so no further events or sends occur (invariant 7).
func (c *Connection) onShutdownComplete() {
	if c.flags.has(flagHandleClosed) {
		return
	}
	c.cancelAllTimersExcept(timerShutdown)
	c.timerCancel(timerShutdown)
	status := c.shutdownStatus()
	c.emit(Event{
		Kind:                     EventShutdownComplete,
		ErrorCode:                c.closeState.errorCode,
		Status:                   status,
		AppClosed:                c.closeState.closedByApp,
		PeerAcknowledgedShutdown: c.flags.has(flagClosedRemotely) && c.flags.has(flagClosedLocally),
	})
	c.flags.set(flagHandleClosed)
	if !c.flags.has(flagExternalOwner) {
		c.Release()
	}
}

func (c *Connection) shutdownStatus() Status {
	switch {
	case c.closeState.cause == nil:
		return StatusSuccess
	default:
		if se, ok := c.closeState.cause.(*StatusErr); ok {
			return se.Status
		}
		return StatusAborted
	}
}

// onUnreachable handles a UNREACHABLE operation (ICMP-triggered, spec.md
// §4.1): it only logs the hint. It does not close the connection, in or
// after the handshake, and does not change the PTO.
func (c *Connection) onUnreachable() {
	c.log.Debugf("received unreachable hint from datapath")
}

// Shutdown is the application-facing entry point for app-initiated close
// (spec.md §4.5, Lifecycle "ClosedLocally"): queues an API_CALL operation
// so TryClose always executes on the drain loop.
func (c *Connection) Shutdown(errorCode uint64, appError bool) {
	op := &operation{kind: opAPICall, apiCall: func(c *Connection) {
		c.tryCloseInternal(closeFlags{appError: appError}, errorCode, "", nil)
	}}
	c.opQueue.enqueue(op)
	if c.worker != nil {
		c.worker.Queue(c)
	}
}
