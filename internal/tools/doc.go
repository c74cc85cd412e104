// Package tools runs host commands on behalf of peripheral modules.
package tools
