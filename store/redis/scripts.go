package redis

import goredis "github.com/redis/go-redis/v9"

// Each state transition runs as one script so it is atomic with respect
// to every other client. Intent hash keys are derived inside the scripts
// from the prefix in ARGV, so all keys must live on one Redis node.

// enqueueScript writes the intent hash and adds it to pending unless the
// hash already exists. Returns 0 for a duplicate.
// KEYS: intent hash, pending. ARGV: id, created score, field/value pairs.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// claimScript moves up to ARGV[1] ids from pending to claimed.
// KEYS: pending, claimed. ARGV: limit, now score, now text, hash prefix.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ARGV[2], id)
	redis.call('HSET', ARGV[4] .. id, 'claimed_at', ARGV[3])
end
return ids
`)

// markScript stamps processed-at if the intent exists and is unprocessed.
// KEYS: pending, claimed, processed. ARGV: id, now text, hash prefix, now score.
var markScript = goredis.NewScript(`
local key = ARGV[3] .. ARGV[1]
if redis.call('EXISTS', key) == 0 then return 0 end
if redis.call('HEXISTS', key, 'processed_at') == 1 then return 0 end
redis.call('HSET', key, 'processed_at', ARGV[2])
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

// quarantineScript retires an intent that cannot be decoded. It leaves
// both queues and, when its hash exists, is stamped processed so retention
// purges it like any other.
// KEYS: pending, claimed, processed. ARGV: id, now text, hash prefix, now score.
var quarantineScript = goredis.NewScript(`
local key = ARGV[3] .. ARGV[1]
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('EXISTS', key) == 0 then return 0 end
redis.call('HSET', key, 'processed_at', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

// reclaimScript returns claims scored before ARGV[1] to pending. Ids whose
// hash has no created score are dropped from claimed and not counted.
// KEYS: claimed, pending. ARGV: cutoff score, hash prefix.
var reclaimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local n = 0
for _, id in ipairs(ids) do
	local key = ARGV[2] .. id
	redis.call('ZREM', KEYS[1], id)
	local created = redis.call('HGET', key, 'created_score')
	if created then
		redis.call('HDEL', key, 'claimed_at')
		redis.call('ZADD', KEYS[2], created, id)
		n = n + 1
	end
end
return n
`)

// purgeScript deletes processed intents scored before ARGV[1].
// KEYS: processed. ARGV: cutoff score, hash prefix.
var purgeScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[2] .. id)
	redis.call('ZREM', KEYS[1], id)
end
return #ids
`)
