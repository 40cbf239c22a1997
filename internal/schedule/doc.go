// Package schedule computes publication slots.
//
// NextSlot is a pure function of a project's publishing settings, the slots
// already taken, and the current time. The orchestrator calls it when a
// finished video is auto-published and when an operator approves a
// publication by hand.
package schedule
