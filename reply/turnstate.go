package reply

// toolState is the minimal-mode dedup record of one tool call.
type toolState struct {
	lastRendered uint64
	started      bool
	terminal     bool
}

// usageTuple is the numeric identity of a usage update.
type usageTuple struct {
	used, size       int64
	hasUsed, hasSize bool
}

func newUsageTuple(used, size *int64) usageTuple {
	var u usageTuple
	if used != nil {
		u.used, u.hasUsed = *used, true
	}
	if size != nil {
		u.size, u.hasSize = *size, true
	}
	return u
}

// turnState holds everything the pipeline forgets at a turn boundary.
// Tool records are only created for delivered lines, so the map is bounded
// by the meta quota.
type turnState struct {
	tools          map[string]*toolState
	lastUsage      usageTuple
	lastStatusHash uint64
	lastToolHash   uint64
	emittedChars   int
	emittedMeta    int
	hasLastUsage   bool
	hasLastStatus  bool
	hasLastTool    bool
	truncated      bool
	// noticePending holds the truncation notice until the final flush in
	// final_only mode.
	noticePending bool
}

func newTurnState() *turnState {
	return &turnState{tools: make(map[string]*toolState)}
}

// reset returns the state to the start of a turn.
func (t *turnState) reset() {
	*t = turnState{tools: make(map[string]*toolState)}
}

func (t *turnState) tool(id string) *toolState {
	st, ok := t.tools[id]
	if !ok {
		st = &toolState{}
		t.tools[id] = st
	}
	return st
}
