// Package sentinel provides standardized error definitions for the hyperstore system.
// This package centralizes all error values used across the coordinator, the storage
// node and the client, so that every layer can match failures with errors.Is.
//
// The errors defined here cover:
// - Protocol failures (malformed or unknown commands)
// - State conflicts (duplicate files or nodes, missing files, exhausted load candidates)
// - Quorum timeouts and node loss
// - Capacity failures (fewer than R storage nodes connected)
// - Component configuration errors
//
// All errors are created using the ewrap package to provide enhanced error
// wrapping and context capabilities.
package sentinel

import (
	"github.com/hyp3rd/ewrap"
)

var (
	// ErrMalformedCommand is returned when a protocol line has the wrong arity or a field cannot be parsed.
	ErrMalformedCommand = ewrap.New("malformed command")

	// ErrUnknownCommand is returned when a protocol line starts with an unrecognized token.
	ErrUnknownCommand = ewrap.New("unknown command")

	// ErrAlreadyExists is returned when storing a file name that is already present in the index, in any state.
	ErrAlreadyExists = ewrap.New("file already exists")

	// ErrNotFound is returned when a file is not stored.
	ErrNotFound = ewrap.New("file does not exist")

	// ErrDuplicateNode is returned when a storage node joins with a port that is already registered.
	ErrDuplicateNode = ewrap.New("duplicate storage node")

	// ErrLoadExhausted is returned when every recorded load candidate for a file has been handed out.
	ErrLoadExhausted = ewrap.New("no load candidates left")

	// ErrQuorumTimeout is returned when a store or remove did not collect enough acknowledgements in time.
	ErrQuorumTimeout = ewrap.New("quorum not reached before timeout")

	// ErrNotEnoughNodes is returned when fewer than R storage nodes are connected.
	ErrNotEnoughNodes = ewrap.New("not enough storage nodes")

	// ErrSessionClosed is returned when writing to or reading from a closed session.
	ErrSessionClosed = ewrap.New("session closed")

	// ErrRebalanceInProgress is returned when a manual rebalance is requested while a cycle is running.
	ErrRebalanceInProgress = ewrap.New("rebalance already in progress")

	// ErrRebalanceThrottled is returned when manual rebalance triggers arrive faster than allowed.
	ErrRebalanceThrottled = ewrap.New("rebalance trigger throttled")

	// ErrInvalidReplication is returned when the replication factor is lower than one.
	ErrInvalidReplication = ewrap.New("replication factor must be at least 1")

	// ErrInvalidTimeout is returned when an operation timeout or period is not positive.
	ErrInvalidTimeout = ewrap.New("timeout must be positive")

	// ErrParamCannotBeEmpty is returned when a parameter cannot be empty.
	ErrParamCannotBeEmpty = ewrap.New("param cannot be empty")

	// ErrSerializerNotFound is returned when a serializer is not found.
	ErrSerializerNotFound = ewrap.New("serializer not found")

	// ErrTimeoutOrCanceled is returned when a timeout or cancellation occurs.
	ErrTimeoutOrCanceled = ewrap.New("the operation timed out or was canceled")

	// ErrMgmtHTTPShutdownTimeout is returned when the management HTTP server fails to shutdown before context deadline.
	ErrMgmtHTTPShutdownTimeout = ewrap.New("management http shutdown timeout")
)
