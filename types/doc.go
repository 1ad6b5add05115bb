// Package types defines the shared data model for the agent marketplace:
// agent profiles and capabilities, tasks with scheduling attributes, and
// the secure agent-to-agent message envelope.
//
// The types package is the lowest-level package with no internal
// dependencies, so both marketplace and messaging can build on it without
// circular imports.
package types
