package redis

import goredis "github.com/redis/go-redis/v9"

// updateWebhookScript replaces the editable JSON of an existing config.
// KEYS[1] webhook key; ARGV[1] data. Returns 0 if the key is missing.
var updateWebhookScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'data', ARGV[1])
return 1
`)

// setStatusScript sets the lifecycle status. Reactivation clears the
// dead-letter counter. KEYS[1] webhook key; ARGV[1] status.
var setStatusScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
if ARGV[1] == 'active' then redis.call('HSET', KEYS[1], 'dlc', 0) end
return 1
`)

// incrementScript bumps the dead-letter counter and suspends an active
// config at threshold. KEYS[1] webhook key; ARGV[1] threshold.
// Returns {count, suspended} or {-1, 0} if the key is missing.
var incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, 0} end
local n = redis.call('HINCRBY', KEYS[1], 'dlc', 1)
local suspended = 0
if n >= tonumber(ARGV[1]) and redis.call('HGET', KEYS[1], 'status') == 'active' then
	redis.call('HSET', KEYS[1], 'status', 'suspended')
	suspended = 1
end
return {n, suspended}
`)

// resetScript zeroes the dead-letter counter. KEYS[1] webhook key.
var resetScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'dlc', 0)
return 1
`)

// createDeliveriesScript reserves every pair key and writes the batch, or
// writes nothing if any pair exists.
// KEYS are the pair keys. ARGV holds 8 values per delivery: delivery key,
// delivery ID, data, status, next (micros or ""), company zset, webhook
// zset, creation score.
var createDeliveriesScript = goredis.NewScript(`
for _, k in ipairs(KEYS) do
	if redis.call('EXISTS', k) == 1 then return 0 end
end
for i, k in ipairs(KEYS) do
	local b = (i - 1) * 8
	local key, id = ARGV[b + 1], ARGV[b + 2]
	redis.call('SET', k, id)
	redis.call('HSET', key, 'data', ARGV[b + 3], 'status', ARGV[b + 4], 'next', ARGV[b + 5])
	redis.call('ZADD', ARGV[b + 6], ARGV[b + 8], id)
	redis.call('ZADD', ARGV[b + 7], ARGV[b + 8], id)
	if ARGV[b + 4] == 'pending' and ARGV[b + 5] ~= '' then
		redis.call('ZADD', '` + zDeliveryDue + `', ARGV[b + 5], id)
	end
end
return 1
`)

// updateDeliveryScript writes attempt results unless the row is terminal.
// KEYS[1] delivery key; ARGV: data, status, next (micros or ""), ID.
// Returns -1 if missing, 0 if terminal, 1 on success.
var updateDeliveryScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur ~= 'pending' then return 0 end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'status', ARGV[2], 'next', ARGV[3])
if ARGV[2] == 'pending' and ARGV[3] ~= '' then
	redis.call('ZADD', '` + zDeliveryDue + `', ARGV[3], ARGV[4])
else
	redis.call('ZREM', '` + zDeliveryDue + `', ARGV[4])
end
return 1
`)

// claimScript leases up to ARGV[3] deliveries due at ARGV[1] by moving
// their next attempt to ARGV[2]. Returns the claimed IDs.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', '` + zDeliveryDue + `', '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	redis.call('ZADD', '` + zDeliveryDue + `', ARGV[2], id)
	redis.call('HSET', '` + prefixDelivery + `' .. id, 'next', ARGV[2])
end
return ids
`)

// claimOneScript leases a single pending delivery unless its next attempt
// moved past the caller's view. KEYS[1] delivery key; ARGV: expected
// (micros), lease (micros), ID. Returns 1 when claimed.
var claimOneScript = goredis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'status', 'next')
if h[1] ~= 'pending' then return 0 end
if h[2] and h[2] ~= '' and tonumber(h[2]) > tonumber(ARGV[1]) then return 0 end
redis.call('HSET', KEYS[1], 'next', ARGV[2])
redis.call('ZADD', '` + zDeliveryDue + `', ARGV[2], ARGV[3])
return 1
`)
