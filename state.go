package quicconn

// stateFlag is the monotonic boolean bag from spec.md §3 ("State
// flags"), refactored per spec.md §9's design note into a bitset plus
// typed accessors instead of one bool field per flag. Every flag here is
// set-once: can only go false→true, except flagSendShutdownCompleteNotif
// which is edge-triggered (spec.md Lifecycle), and flagGotFirstRttSample,
// which Restart(completeReset=true) clears.
type stateFlag uint64

const (
	flagAllocated stateFlag = 1 << iota
	flagInitialized
	flagStarted
	flagConnected
	flagHandshakeConfirmed
	flagClosedLocally
	flagClosedRemotely
	flagHandleClosed
	flagUninitialized
	flagFreed
	flagAppClosed
	flagShutdownCompleteTimedOut
	flagSendShutdownCompleteNotif
	flagHandleShutdown
	flagExternalOwner
	flagShareBinding
	flagSourceAddressValidated
	flagGotFirstRttSample
	flagGotFirstServerResponse
	flagReceivedRetryPacket
	flagEncryptionEnabled
	flagHeaderProtectionEnabled
	flagUseSendBuffer
	flagUsePacing
	flagInitiatedCidUpdate
	flagLocalAddressSet
	flagRemoteAddressSet
	flagStatelessRetry
)

type flagSet struct {
	bits stateFlag
}

func (f *flagSet) has(flag stateFlag) bool { return f.bits&flag != 0 }

// set is idempotent and, for the monotonic flags, a false→true-only
// transition: callers never clear a bit through this method.
func (f *flagSet) set(flag stateFlag) { f.bits |= flag }

// clear is only ever called for flagSendShutdownCompleteNotif, the one
// edge-triggered flag in the bag (spec.md Lifecycle).
func (f *flagSet) clear(flag stateFlag) { f.bits &^= flag }
