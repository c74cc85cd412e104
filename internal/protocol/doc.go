// Package protocol owns the controller<->peripheral transport contract.
//
// Ownership boundary:
// - error taxonomy shared by both sides of the bus
// - frame chunking and reassembly primitives (frame)
// - command/response envelope codec (schema)
//
// The controller is bus master and drives one request/response exchange at
// a time. The peripheral never initiates a transfer; it only answers writes
// and read polls.
package protocol
