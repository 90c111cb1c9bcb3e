package workers

import "listing_tracker/models"

// LogFunc receives progress messages so callers can persist them alongside the run
type LogFunc func(level models.LogLevel, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, message string) {}
