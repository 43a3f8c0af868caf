// Package eventsub receives Twitch EventSub webhook deliveries.
//
// A delivery passes through three stages before anything downstream sees it:
//   - Verifier checks the HMAC-SHA256 signature over message id, timestamp and
//     the raw body bytes. A mismatch is answered with 403.
//   - Gateway answers webhook_callback_verification challenges, then replies
//     200 OK before doing any further work.
//   - ReplayGuard drops message ids seen in the last ten minutes and
//     deliveries whose timestamp is older than ten minutes.
//
// Accepted notifications are published on a Bus as typed Events, one queue
// and consumer goroutine per event type, so a slow handler for one type never
// delays another.
package eventsub
