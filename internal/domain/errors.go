package domain

import (
	"errors"
	"fmt"
)

// Sentinels wrapped by the typed errors below so callers can use errors.Is.
var (
	ErrJourneyNotFound      = errors.New("journey not found")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrCityNotFound         = errors.New("city not found")
	ErrJourneyInPast        = errors.New("journey has already departed")
	ErrDuplicateBooking     = errors.New("user already holds an active booking on this journey")
	ErrOutsidePickupRadius  = errors.New("pickup point outside city radius")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrNotADriver           = errors.New("user is not a driver")
	ErrInvalidCoordinate    = errors.New("invalid coordinate")
	ErrInvalidSeats         = errors.New("seats must be at least 1")
	ErrNotOwner             = errors.New("booking belongs to another user")
	ErrBookingNotActive     = errors.New("booking is not active")
	ErrEmailTaken           = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvariantViolation   = errors.New("internal invariant violation")
)

type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

// ValidationError is the InvalidInput kind.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

type ForbiddenError struct {
	Msg string
	Err error
}

func (e ForbiddenError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "forbidden"
}

func (e ForbiddenError) Unwrap() error { return e.Err }

type UnauthorizedError struct {
	Msg string
	Err error
}

func (e UnauthorizedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "unauthorized"
}

func (e UnauthorizedError) Unwrap() error { return e.Err }

// CapacityError reports a rejected reservation.
type CapacityError struct {
	JourneyID string
	Requested int
	Available int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("only %d seats available on journey %s, requested %d", e.Available, e.JourneyID, e.Requested)
}

func (e CapacityError) Unwrap() error { return ErrInsufficientCapacity }

type InternalError struct {
	Msg string
	Err error
}

func (e InternalError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

func (e InternalError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsForbidden(err error) bool {
	var target ForbiddenError
	return errors.As(err, &target)
}

func IsUnauthorized(err error) bool {
	var target UnauthorizedError
	return errors.As(err, &target)
}

func IsInsufficientCapacity(err error) bool {
	var target CapacityError
	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target InternalError
	return errors.As(err, &target)
}
