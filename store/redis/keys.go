package redis

// Redis key naming conventions for courier data.
// All keys are prefixed with "courier:" to avoid collisions.

const keyPrefix = "courier:"

// intentKeyPrefix prefixes intent hashes; scripts append the id.
const intentKeyPrefix = keyPrefix + "intent:"

// intentKey returns the key for an intent hash: courier:intent:{id}
func intentKey(id string) string { return intentKeyPrefix + id }

// pendingKey is the Sorted Set of unclaimed intent ids scored by created-at.
const pendingKey = keyPrefix + "intents:pending"

// claimedKey is the Sorted Set of claimed, unprocessed intent ids scored by
// claimed-at.
const claimedKey = keyPrefix + "intents:claimed"

// processedKey is the Sorted Set of processed intent ids scored by
// processed-at.
const processedKey = keyPrefix + "intents:processed"
