package lock

import "github.com/mirkobrombin/go-lease/v1/store"

// releaseScript deletes the lock only if it still carries the caller's
// holder identity.
var releaseScript = store.NewScript("lock_release", `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript resets the lease of a lock the caller still owns. It never
// creates the key and never touches a lock owned by someone else.
var renewScript = store.NewScript("lock_renew", `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
