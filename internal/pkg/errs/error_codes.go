/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally
and in responses sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1002
)

// 2xxx: Room and Session Business Logic Errors
const (
	// ErrInvalidIdentity indicates that one of the required identity claims
	// (participant id, display name, room id) was missing or empty.
	ErrInvalidIdentity = 2001

	// ErrRoomIsFull indicates that the room being joined already holds two
	// distinct participants.
	ErrRoomIsFull = 2002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified internal server error.
	ErrUnknown = 5000
)
