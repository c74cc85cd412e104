// Package controller is the bus-master side of the link. A Transactor sends
// one command and polls the peripheral until the whole reply has arrived or
// the deadline passes. The typed clients wrap Transact per command kind.
package controller
