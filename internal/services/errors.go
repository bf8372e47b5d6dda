// Package services defines the business logic for meals, goals, profiles,
// and subscriptions. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Meal-related errors.
var (
	// ErrMealNotFound indicates that the requested meal does not exist or is
	// not accessible to the current user.
	ErrMealNotFound = errors.New("meal not found")

	// ErrEmptyImage is returned when a meal submission carries no image data.
	ErrEmptyImage = errors.New("image is empty")

	// ErrProductNotFound indicates that a scanned barcode is unknown to the
	// product database.
	ErrProductNotFound = errors.New("product not found")
)

// Goal- and profile-related errors.
var (
	// ErrGoalNotFound indicates that the user has no goal yet.
	ErrGoalNotFound = errors.New("goal not found")

	// ErrProblemNotFound indicates that the requested problem row does not
	// exist or belongs to another user.
	ErrProblemNotFound = errors.New("problem not found")

	// ErrProblemTooLong is returned when a problem description exceeds the
	// stored column size.
	ErrProblemTooLong = errors.New("problem description too long")

	// ErrInvalidField is returned when an update names a column that is not
	// user-editable.
	ErrInvalidField = errors.New("field is not editable")

	// ErrInvalidWeight is returned when a weight entry is not a positive
	// number of kilograms.
	ErrInvalidWeight = errors.New("weight must be positive")

	// ErrUserNotFound indicates that the authenticated user row has vanished,
	// e.g. after account deletion.
	ErrUserNotFound = errors.New("user not found")
)

// Subscription-related errors.
var (
	// ErrReceiptNotVerified is returned when a purchase receipt could not be
	// confirmed as active with the store.
	ErrReceiptNotVerified = errors.New("receipt could not be verified")
)
