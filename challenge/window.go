// Package challenge implements the challenge window, bonding, abuse
// detection, priority queue, and verdict/escalation logic of the
// challenge protocol.
package challenge

import "time"

// DefaultWindowDuration is the challenge window opened at FINALIZE.
const DefaultWindowDuration = 24 * time.Hour

// Window tracks one task's open challenge period, extended by each valid
// challenge that arrives while it's open.
type Window struct {
	TaskID        string
	OpenedAtNs    int64
	DurationNs    int64
	ExtendedCount int
}

// NewWindow opens a window for taskID at openedAtNs with the default
// duration.
func NewWindow(taskID string, openedAtNs int64) *Window {
	return &Window{TaskID: taskID, OpenedAtNs: openedAtNs, DurationNs: int64(DefaultWindowDuration)}
}

// IsOpen reports whether the window is still accepting challenges at nowNs.
func (w *Window) IsOpen(nowNs int64) bool {
	return nowNs-w.OpenedAtNs < w.DurationNs
}

// Extend pushes the window's duration out by deltaSeconds, recording one
// more extension.
func (w *Window) Extend(deltaSeconds int64) {
	w.DurationNs += deltaSeconds * int64(time.Second)
	w.ExtendedCount++
}
