// Package events fans push events out to typed subscribers.
//
// Each Subscribe call returns a Subscription with its own buffered channel
// and an Unsubscribe handle. Slow subscribers lose events instead of
// blocking the publisher.
package events
