// Package modules holds the concrete peripheral modules. Each subpackage
// serves one command kind and talks to hardware or the network only through
// a small collaborator interface.
package modules
