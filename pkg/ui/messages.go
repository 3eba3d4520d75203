package ui

// StateChangedMsg is sent whenever the controller mutates conversation state,
// including from the exchange pump goroutine.
type StateChangedMsg struct{}

// errMsg carries a failure from an asynchronous controller operation into the
// status line.
type errMsg struct{ err error }

// statusMsg replaces the transient status line.
type statusMsg struct{ text string }
