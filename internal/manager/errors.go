package manager

import "errors"

// The manager's failure taxonomy (spec §4.7/§8). Peek returns
// ErrNotTiled, ErrNotLoaded and ErrNotAvailable; providers report
// unavailability as tombstones, not errors. Fetch smooths
// NotLoaded/NotAvailable over with synthesis and never returns them for a
// tiled media's non-negative levels.
var (
	// ErrNotTiled means the media has never been tiled (no metadata, or
	// metadata with tiled=false) and isn't a dynamic generator either.
	ErrNotTiled = errors.New("manager: media not tiled")

	// ErrNotLoaded means the tile isn't in cache yet but a load has been
	// (or is about to be) enqueued; retrying later may succeed.
	ErrNotLoaded = errors.New("manager: tile not loaded yet")

	// ErrNotAvailable means the tile cannot exist: out-of-range
	// coordinates, a tombstoned load, or a permanent failure.
	ErrNotAvailable = errors.New("manager: tile not available")

	// ErrConversionFailed is surfaced by callers driving ConversionRunner
	// ahead of a tiling job; the manager itself never returns it from
	// peek/fetch, which only ever see already-tiled or dynamic media.
	ErrConversionFailed = errors.New("manager: conversion failed")

	// ErrCancelled classifies an operation aborted via purge or shutdown.
	// No Manager method returns it: Purge and Shutdown drop queued work
	// without reporting to the requester.
	ErrCancelled = errors.New("manager: cancelled")

	// ErrIo classifies an underlying filesystem error from TileStore. No
	// Manager method returns it: a failed tile read is tombstoned by the
	// static provider and surfaces from Peek as ErrNotAvailable.
	ErrIo = errors.New("manager: io error")
)
