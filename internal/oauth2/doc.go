// Package oauth2 keeps a SirixDB access token fresh for the lifetime of a client.
//
// # Overview
//
// A RefreshLoop authenticates once with the resource owner password grant,
// then refreshes the credential shortly before it expires. Every credential it
// obtains is published to a TokenCell, which any number of goroutines can read
// without locking:
//
//	cell := oauth2.NewTokenCell()
//	loop, err := oauth2.NewRefreshLoop(gw, cell, oauth2.LoopConfig{
//	    TokenURL: "https://localhost:9443/token",
//	    Username: "admin",
//	    Password: "admin",
//	})
//	if err != nil {
//	    return err
//	}
//	if err := loop.Start(ctx); err != nil {
//	    return err
//	}
//	defer loop.Stop()
//
//	header, ok := cell.AuthorizationHeader()
//
// # Failure handling
//
// A failed initial authentication is logged and the loop stays
// unauthenticated until it is stopped; it does not retry. A failed refresh is
// logged, the previous credential stays readable, and the next refresh is
// attempted one full cycle later.
//
// # Persistence
//
// With WithTokenStorage the loop seeds itself from a previously saved
// credential (skipping authentication while it is still valid) and saves every
// credential it publishes. MemoryTokenStorage and RedisTokenStorage are
// provided; the redis variant can encrypt credentials at rest.
package oauth2
