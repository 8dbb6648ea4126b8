// Package channel implements the pub-sub primitive shared by broker-side
// channels and client-side channel proxies. A channel keeps the most recent
// context per type, plus the most recent context of any type, and fans each
// broadcast out to wildcard subscribers followed by subscribers of the
// broadcast type.
package channel
