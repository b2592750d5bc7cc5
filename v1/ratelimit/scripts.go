package ratelimit

import "github.com/mirkobrombin/go-lease/v1/store"

// Both scripts take KEYS[1] = counter, ARGV[1] = limit, ARGV[2] = window in
// milliseconds and reply {admitted, count, pttl}. A denial never writes.

var fixedWindowScript = store.NewScript("ratelimit_fixed", `
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n + 1 > tonumber(ARGV[1]) then
    return {0, n, redis.call("PTTL", KEYS[1])}
end
if n == 0 then
    redis.call("SET", KEYS[1], 1, "PX", ARGV[2])
else
    redis.call("INCR", KEYS[1])
end
return {1, n + 1, redis.call("PTTL", KEYS[1])}
`)

var rollingWindowScript = store.NewScript("ratelimit_rolling", `
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n + 1 > tonumber(ARGV[1]) then
    return {0, n, redis.call("PTTL", KEYS[1])}
end
redis.call("SET", KEYS[1], n + 1, "PX", ARGV[2])
return {1, n + 1, tonumber(ARGV[2])}
`)
