// Package sirix is a client for the SirixDB HTTP interface.
//
// A Client owns a request gateway, a single worker that executes every
// outbound request, and, when credentials are configured, a refresh loop that
// authenticates against <base>/token and keeps the access token fresh. Each
// request is stamped with the latest published token at submission time.
//
//	client, err := sirix.New("https://localhost:9443",
//		sirix.WithCredentials("admin", "admin"),
//	)
//	if err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	if _, err := client.WaitForToken(ctx); err != nil {
//		return err
//	}
//	resp, err := client.Do(ctx, sirix.Request{Method: http.MethodGet, Path: "/"})
//	if err != nil {
//		return err
//	}
//	if err := resp.CheckStatus(); err != nil {
//		return err
//	}
//
// Responses with any HTTP status are returned as values; only transport and
// request construction problems are errors. A request sent with a stale or
// missing token gets the server's rejection as an ordinary response.
package sirix
