package mvmap

import "bytes"


//============================================= MVMap Decision Makers


// putDecisionMaker
//	The default strategy: store the provided value unconditionally.
type putDecisionMaker struct{}

func (dm putDecisionMaker) Decide(existing, provided []byte) MVDecision { return DecisionPut }
func (dm putDecisionMaker) SelectValue(existing, provided []byte) []byte { return provided }
func (dm putDecisionMaker) Reset() {}

// putIfAbsentDecisionMaker
//	Stores the provided value only when no entry exists.
type putIfAbsentDecisionMaker struct{}

func (dm putIfAbsentDecisionMaker) Decide(existing, provided []byte) MVDecision {
	if existing == nil { return DecisionPut }
	return DecisionAbort
}

func (dm putIfAbsentDecisionMaker) SelectValue(existing, provided []byte) []byte { return provided }
func (dm putIfAbsentDecisionMaker) Reset() {}

// ifPresentDecisionMaker
//	Replaces the value only when an entry already exists.
type ifPresentDecisionMaker struct{}

func (dm ifPresentDecisionMaker) Decide(existing, provided []byte) MVDecision {
	if existing != nil { return DecisionPut }
	return DecisionAbort
}

func (dm ifPresentDecisionMaker) SelectValue(existing, provided []byte) []byte { return provided }
func (dm ifPresentDecisionMaker) Reset() {}

// removeDecisionMaker
//	Removes the entry when one exists.
type removeDecisionMaker struct{}

func (dm removeDecisionMaker) Decide(existing, provided []byte) MVDecision {
	if existing != nil { return DecisionRemove }
	return DecisionAbort
}

func (dm removeDecisionMaker) SelectValue(existing, provided []byte) []byte { return nil }
func (dm removeDecisionMaker) Reset() {}

// equalsDecisionMaker
//	Applies the wrapped decision only when the existing value equals the expectation.
//	Backs the conditional replace and conditional remove operations.
type equalsDecisionMaker struct {
	// expected: the value the entry must currently hold
	expected []byte
	// decision: what to do on a match
	decision MVDecision
}

func (dm *equalsDecisionMaker) Decide(existing, provided []byte) MVDecision {
	if existing != nil && bytes.Equal(existing, dm.expected) { return dm.decision }
	return DecisionAbort
}

func (dm *equalsDecisionMaker) SelectValue(existing, provided []byte) []byte { return provided }
func (dm *equalsDecisionMaker) Reset() {}

// rewriteDecisionMaker
//	Rewrites an existing entry with its own value, forcing the copy-on-write path to
//	reproduce the entry on fresh pages. Used when moving live data off stale saved pages.
type rewriteDecisionMaker struct {
	// decided: whether the last attempt chose to rewrite the entry, cleared on Reset
	decided bool
}

func (dm *rewriteDecisionMaker) Decide(existing, provided []byte) MVDecision {
	if existing == nil { return DecisionAbort }

	dm.decided = true
	return DecisionPut
}

func (dm *rewriteDecisionMaker) SelectValue(existing, provided []byte) []byte { return existing }
func (dm *rewriteDecisionMaker) Reset() { dm.decided = false }

var defaultDecisionMaker = putDecisionMaker{}
var ifAbsentDecisionMaker = putIfAbsentDecisionMaker{}
var presentDecisionMaker = ifPresentDecisionMaker{}
var deleteDecisionMaker = removeDecisionMaker{}
