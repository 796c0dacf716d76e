// Package portier is a relying-party client for the Portier broker-mediated,
// passwordless email authentication protocol.
//
// A relying party hands the user's email address to Authenticate and
// redirects the user agent to the returned broker URL. The broker proves
// ownership of the address and posts an id_token back to the redirect URI,
// where Verify checks it and returns the verified address.
//
// Example:
//
//	s, err := memorystore.New(0)
//	if err != nil { log.Fatal(err) }
//	client, err := portier.NewClient(s, "https://app.example/verify")
//	if err != nil { log.Fatal(err) }
//
//	// Login form handler:
//	loc, err := client.Authenticate(ctx, email, "")
//	http.Redirect(w, r, loc, http.StatusSeeOther)
//
//	// Redirect URI handler:
//	res, err := client.Verify(ctx, r.PostFormValue("id_token"))
//	if err != nil { /* reject */ }
//	startSession(res.Email)
//
// # Stores
//
// Nonces and cached broker documents live in a store.Store. Use
// store/memorystore for a single process and store/redisstore when
// Authenticate and Verify may run in different processes.
//
// # Algorithms
//
// Tokens are verified with RS256 or Ed25519 EdDSA. The broker key named by
// the token's kid decides the algorithm; the token header must agree with
// it. When the broker publishes only Ed25519 signing keys alongside RSA,
// Authenticate requests EdDSA and Verify rejects RS256 tokens for that
// login.
//
// # Errors
//
// Errors wrap the sentinels declared in this package; use errors.Is to
// match a specific failure or KindOf to branch on its category. Nonce
// failures carry a single generic message and are never more specific.
package portier
