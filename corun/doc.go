// Package corun is a cooperative structured-concurrency runtime.
// Tasks are stackless, resumable units of work mapped onto small worker
// pools; a suspended task never holds a worker thread. Jobs track task
// lifecycle and parent/child links, scopes own job trees and enforce
// structured shutdown, and failure propagation between parent and child
// follows an attachable policy (fail-fast or supervisor).
package corun
