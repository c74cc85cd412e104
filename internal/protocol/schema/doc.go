// Package schema is the command/response envelope codec.
//
// An envelope carries exactly one payload. The payload's field number in the
// envelope is its Kind, so the active variant is always identifiable from
// the bytes alone. Encoding follows the protobuf wire format so either MCU
// can decode with a schema-generated codec.
package schema
