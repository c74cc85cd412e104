// Package peripheral owns the bus-target side of the transport.
//
// Ownership boundary:
// - module capability contract
// - kind -> module registry
// - inbound frame accumulation, dispatch and response staging
//
// Modules are owned by the composition root and registered by reference;
// the dispatcher never creates or frees one.
package peripheral
