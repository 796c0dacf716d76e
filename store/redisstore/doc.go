// Package redisstore provides a store.Store backed by Redis, suitable for
// deployments where authentication and verification may be handled by
// different processes.
//
// Characteristics
//
//	Durability        : Redis persistence settings apply
//	Horizontal scale  : yes (shared Redis)
//	Nonce consumption : MULTI/EXEC GET+DEL, exactly once across processes
//	Cache refresh     : last writer wins, whole-value SET with expiry
//
// Key layout (default prefix "portier:"):
//
//	portier:cache:<cacheID>  JSON {data, expires_at}, EX = document TTL
//	portier:nonce:<nonce>    JSON {client_id, email, created_at, expires_at}, EX = nonce TTL
//
// Example:
//
//	s, err := redisstore.NewFromEnv()
//	if err != nil { log.Fatal(err) }
//	defer s.Close()
//	client, err := portier.NewClient(s, "https://app.example/verify")
package redisstore
