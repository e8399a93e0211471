// Package triage provides the business boundary for Warden's fraud case triage.
// It defines the Engine (per-case state machine over scoring, reasoning and the
// human gate), the Orchestrator (batch runs and run statistics), the Service
// (async submission and review), the Store interface (persistence), and domain models.
package triage
