package scraper

import (
	"errors"
	"time"
)

// Fatal errors. Any of these aborts the whole run.
var (
	ErrBrowserLaunch   = errors.New("browser launch failed")
	ErrAuth            = errors.New("authentication failed")
	ErrNavigation      = errors.New("navigation failed")
	ErrSelectorTimeout = errors.New("selector timeout")
)

type Timeouts struct {
	Navigation  time.Duration
	Listing     time.Duration
	Description time.Duration
	NetworkIdle time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:  60 * time.Second,
		Listing:     30 * time.Second,
		Description: 10 * time.Second,
		NetworkIdle: 60 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Navigation <= 0 {
		t.Navigation = def.Navigation
	}
	if t.Listing <= 0 {
		t.Listing = def.Listing
	}
	if t.Description <= 0 {
		t.Description = def.Description
	}
	if t.NetworkIdle <= 0 {
		t.NetworkIdle = def.NetworkIdle
	}
	return t
}
