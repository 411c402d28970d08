// Package intent defines the queued unit of notification work and the queue
// store contract.
//
// An intent moves Pending → Claimed → Processed. The only backwards edge is
// the reclaim sweep, which returns an intent claimed longer than the claim
// timeout (and still unprocessed) to Pending. Processed is terminal.
//
// [Store.ClaimBatch] is the single point of mutual exclusion between engine
// instances: concurrent callers always receive disjoint sets of intents.
package intent
