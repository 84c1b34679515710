package service

import "errors"

var (
	// ErrUploadsPending is returned when a receipt is submitted while
	// uploads are still being processed
	ErrUploadsPending = errors.New("uploads still in progress")
	// ErrNoExport is returned when a receipt has no stored spreadsheet
	ErrNoExport = errors.New("receipt has no export")
)
