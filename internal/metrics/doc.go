// Package metrics provides internal metrics collection for the scheduler
// and the message router.
// This package is internal and should not be imported by external projects.
package metrics
