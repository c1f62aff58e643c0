package queue

import "github.com/redis/go-redis/v9"

// Every key of a queue and its dead letter queue shares one {hash tag} so the
// scripts stay single-slot on Redis Cluster.
//
// KEYS: 1 visible zset (score = visible-at ms), 2 bodies hash,
// 3 receive counts hash, 4 sent-at hash, 5..8 the same for the dead letter queue
const (
	// receiveScript ARGV: now ms, max, visible-again-at ms, max receive count, dlq enabled.
	// Returns {deadLettered, id1, count1, sentMs1, body1, id2, ...}
	receiveScript = `
		local maxReceive = tonumber(ARGV[4])
		local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
		local out = {'0'}
		local deadLettered = 0

		for _, id in ipairs(ids) do
			local body = redis.call('HGET', KEYS[2], id)
			if not body then
				redis.call('ZREM', KEYS[1], id)
				redis.call('HDEL', KEYS[3], id)
				redis.call('HDEL', KEYS[4], id)
			else
				local count = tonumber(redis.call('HGET', KEYS[3], id) or '0')
				local sent = redis.call('HGET', KEYS[4], id) or '0'
				if maxReceive > 0 and count >= maxReceive then
					redis.call('ZREM', KEYS[1], id)
					redis.call('HDEL', KEYS[2], id)
					redis.call('HDEL', KEYS[3], id)
					redis.call('HDEL', KEYS[4], id)
					if ARGV[5] == '1' then
						redis.call('ZADD', KEYS[5], ARGV[1], id)
						redis.call('HSET', KEYS[6], id, body)
						redis.call('HSET', KEYS[7], id, '0')
						redis.call('HSET', KEYS[8], id, ARGV[1])
					end
					deadLettered = deadLettered + 1
				else
					count = count + 1
					redis.call('HSET', KEYS[3], id, tostring(count))
					redis.call('ZADD', KEYS[1], ARGV[3], id)
					table.insert(out, id)
					table.insert(out, tostring(count))
					table.insert(out, sent)
					table.insert(out, body)
				end
			end
		end

		out[1] = tostring(deadLettered)
		return out
	`

	// ackScript ARGV: id, receive count of the delivery being acked.
	// Returns 1 deleted, 0 unknown id, -1 stale receipt
	ackScript = `
		local count = redis.call('HGET', KEYS[3], ARGV[1])
		if not count then
			return 0
		end
		if tonumber(count) ~= tonumber(ARGV[2]) then
			return -1
		end
		redis.call('ZREM', KEYS[1], ARGV[1])
		redis.call('HDEL', KEYS[2], ARGV[1])
		redis.call('HDEL', KEYS[3], ARGV[1])
		redis.call('HDEL', KEYS[4], ARGV[1])
		return 1
	`
)

var (
	receiveLua = redis.NewScript(receiveScript)
	ackLua     = redis.NewScript(ackScript)
)
