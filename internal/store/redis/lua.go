package redis

// ─────────────────────────────────────────────
// Lua Scripts for Atomic Redis Operations
// ─────────────────────────────────────────────

// LuaCommitAccount replaces an account document if nobody else wrote it
// since it was read, and keeps the payment index in sync.
//
// KEYS[1] = {prefix}account:{clientID}   (string – JSON account)
// KEYS[2] = {prefix}accounts             (set of client ids)
// ARGV[1] = key prefix
// ARGV[2] = clientID
// ARGV[3] = expected version (0 = account must not exist)
// ARGV[4] = new account JSON
// ARGV[5] = n, number of removed payment ids that follow
// ARGV[6 .. 5+n]   = removed payment ids
// ARGV[6+n .. ]    = payment ids held by the new document
//
// Returns: "OK" or "CONFLICT"
const LuaCommitAccount = `
local accountKey = KEYS[1]
local indexKey   = KEYS[2]
local prefix     = ARGV[1]
local clientID   = ARGV[2]
local expected   = tonumber(ARGV[3])
local doc        = ARGV[4]
local removedN   = tonumber(ARGV[5])

-- 1. Optimistic version check
local current = 0
local raw = redis.call("GET", accountKey)
if raw then
    current = tonumber(cjson.decode(raw)["version"]) or 0
end
if current ~= expected then
    return "CONFLICT"
end

-- 2. Write the document and register the client
redis.call("SET", accountKey, doc)
redis.call("SADD", indexKey, clientID)

-- 3. Drop index entries of removed payments
for i = 6, 5 + removedN do
    redis.call("DEL", prefix .. "payment:" .. ARGV[i])
end

-- 4. Point live payments at their owner
for i = 6 + removedN, #ARGV do
    redis.call("SET", prefix .. "payment:" .. ARGV[i], clientID)
end

return "OK"
`
