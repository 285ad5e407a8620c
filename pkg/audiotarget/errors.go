package audiotarget

import "errors"

var (
	// ErrReleased is returned when operating on an entity whose native handle was already released
	ErrReleased = errors.New("native handle already released")

	// ErrInvalidIdentifier is returned for a target identifier whose pid part is not an integer
	ErrInvalidIdentifier = errors.New("invalid target identifier")

	// ErrReloadInProgress is returned when a reload is requested while another one is running
	ErrReloadInProgress = errors.New("reload already in progress")

	// ErrNoTarget is returned by volume commands when nothing is selected
	ErrNoTarget = errors.New("no target selected")

	ErrDeviceNotFound = errors.New("device not found")

	errNoSuchProcess   = errors.New("no such process")
	errNoSessionSource = errors.New("no device could enumerate its sessions")
)
