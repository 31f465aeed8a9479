// Package dedupe provides a TTL-bounded cache for suppressing duplicate
// webhook deliveries. WhatsApp Cloud retries webhook posts until they are
// acknowledged, so the same message id can arrive more than once; the webhook
// handler checks each event's message id against this cache and drops repeats.
//
// The cache is size-limited with oldest-first eviction and expires entries
// after a configurable TTL. Check and Mark are deliberately separate: a key
// is marked only after its event was fully processed, so a delivery that
// failed mid-flight stays eligible for the provider's retry.
package dedupe
