// Package suppression decides whether a contact may receive WhatsApp
// messages and applies opt-out and opt-in keywords sent by contacts.
//
// A contact is suppressed when it is blocked or has unsubscribed. The
// audience resolver already skips such contacts; the send worker checks
// again right before the gateway call, since a contact can opt out between
// enqueue and send.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
