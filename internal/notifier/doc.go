// Package notifier delivers run notifications to trigger recipients.
//
// A recipient string selects the channel:
//   - "telegram:<chat>[/<thread>]" sends through the Telegram Bot API
//   - "log:<name>" writes the message to the structured log
//   - "mailto:<addr>" or a bare e-mail address sends over SMTP
//
// Delivery is synchronous so the caller can record the outcome. Sends share a
// token-bucket rate limit and are retried with exponential backoff. Failures
// wrap ErrDelivery and are never fatal to a run.
package notifier
