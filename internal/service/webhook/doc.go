// Package webhook reconciles gateway webhook events with the message,
// contact, chat and campaign stores.
//
// Every handler is idempotent: message status changes are compare-and-set
// updates and counters move only when this call applied the transition, so
// a redelivered event never double-counts or regresses a message.
package webhook
