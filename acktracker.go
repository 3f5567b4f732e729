package quicconn

// ackTracker records which packet numbers in one encryption level's space
// have been received, for duplicate rejection (spec.md invariant 9) and
// for driving ACK frame generation. A sparse range list is sufficient
// here since the loss-detection collaborator (out of scope, spec.md §1)
// owns actual ACK frame construction; this tracker only needs to answer
// "have I seen pn before" and "is an ACK owed".
type ackTracker struct {
	ranges        []AckRange // sorted, disjoint, ascending
	ackPending    bool
	ackImmediate  bool
	largestUnacked uint64
	haveAny       bool
}

// Add reports whether pn is new (spec.md §4.2 step 4j: "AckTracker.Add(pn)";
// duplicates return false and are dropped per invariant 9).
func (t *ackTracker) Add(pn uint64) bool {
	// binary search for insertion point
	lo, hi := 0, len(t.ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.ranges[mid].Largest < pn {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(t.ranges) && t.ranges[lo].Smallest <= pn && pn <= t.ranges[lo].Largest {
		return false // duplicate
	}
	// try to extend the neighboring ranges, else insert a singleton
	mergedLeft := lo > 0 && t.ranges[lo-1].Largest+1 == pn
	mergedRight := lo < len(t.ranges) && t.ranges[lo].Smallest == pn+1
	switch {
	case mergedLeft && mergedRight:
		t.ranges[lo-1].Largest = t.ranges[lo].Largest
		t.ranges = append(t.ranges[:lo], t.ranges[lo+1:]...)
	case mergedLeft:
		t.ranges[lo-1].Largest = pn
	case mergedRight:
		t.ranges[lo].Smallest = pn
	default:
		t.ranges = append(t.ranges, AckRange{})
		copy(t.ranges[lo+1:], t.ranges[lo:])
		t.ranges[lo] = AckRange{Smallest: pn, Largest: pn}
	}
	if !t.haveAny || pn > t.largestUnacked {
		t.largestUnacked = pn
		t.haveAny = true
	}
	return true
}

// Contains reports whether pn has already been recorded, without mutating
// state — used by tests and by duplicate-aware diagnostics.
func (t *ackTracker) Contains(pn uint64) bool {
	lo, hi := 0, len(t.ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.ranges[mid].Largest < pn {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(t.ranges) && t.ranges[lo].Smallest <= pn && pn <= t.ranges[lo].Largest
}

// AckPacket marks this packet number as requiring acknowledgement (spec.md
// §4.2 step 8); immediate forces an out-of-band ACK rather than waiting
// for the ACK_DELAY timer.
func (t *ackTracker) AckPacket(pn uint64, immediate bool) {
	t.ackPending = true
	if immediate {
		t.ackImmediate = true
	}
}

// takeImmediate reports whether an immediate ACK is owed and clears the
// pending bits, for the drain loop's post-loop inline-flush check
// (spec.md §4.1: "op count exhausted but an immediate-ACK flag is
// pending").
func (t *ackTracker) takeImmediate() bool {
	immediate := t.ackImmediate
	t.ackPending = false
	t.ackImmediate = false
	return immediate
}
