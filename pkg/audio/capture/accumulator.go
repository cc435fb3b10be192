package capture

// accumulator groups successive periods into delivery blocks. It is owned by
// the capture goroutine alone and needs no locking.
type accumulator struct {
	buf         []byte
	periodBytes int
	threshold   int
	maxPeriods  int
	policy      OverflowPolicy

	slots int // periods currently held
}

// newAccumulator allocates room for maxPeriods periods of periodBytes.
func newAccumulator(periodBytes, threshold, maxPeriods int, policy OverflowPolicy) *accumulator {
	return &accumulator{
		buf:         make([]byte, periodBytes*maxPeriods),
		periodBytes: periodBytes,
		threshold:   threshold,
		maxPeriods:  maxPeriods,
		policy:      policy,
	}
}

// addOutcome reports what [accumulator.add] did with a period.
type addOutcome struct {
	// block is non-nil when a block is ready for delivery. It aliases the
	// internal buffer and is valid until the next call to add.
	block []byte

	// overflowed is true when the buffer filled up before the threshold and
	// the overflow policy was applied.
	overflowed bool
}

// add appends one full period. A block is returned as soon as the
// accumulated byte count is an exact multiple of the threshold. If the
// buffer reaches capacity without that happening, the overflow policy is
// applied: flush returns the partial block, drop-oldest discards the first
// period.
func (a *accumulator) add(period []byte) addOutcome {
	off := a.slots * a.periodBytes
	copy(a.buf[off:off+a.periodBytes], period)
	a.slots++

	n := a.slots * a.periodBytes
	if n%a.threshold == 0 {
		a.slots = 0
		return addOutcome{block: a.buf[:n]}
	}
	if a.slots < a.maxPeriods {
		return addOutcome{}
	}

	if a.policy == OverflowDropOldest {
		copy(a.buf, a.buf[a.periodBytes:n])
		a.slots--
		return addOutcome{overflowed: true}
	}
	a.slots = 0
	return addOutcome{block: a.buf[:n], overflowed: true}
}

// reset discards any partially accumulated block.
func (a *accumulator) reset() {
	a.slots = 0
}

// pending returns the number of bytes accumulated but not yet delivered.
func (a *accumulator) pending() int {
	return a.slots * a.periodBytes
}
