// Package messaging renders campaign message templates and normalizes the
// phone identifiers exchanged with the WhatsApp gateway.
//
// Templates use single-brace placeholders such as {name} or {order_id}.
// Rendering never fails: a placeholder that cannot be resolved is left in
// the output as written.
package messaging
