// Package corvus is the Go driver for the Corvus multi-model database. It
// manages the connection to one or more coordinators and executes API
// requests with automatic failover, credential refresh and structured
// error reporting.
//
// # Connecting
//
// A client is constructed from one or more coordinator endpoints plus
// functional options. Credentials default to none; pass basic credentials
// or let the client exchange them for a server-issued token that is
// refreshed transparently:
//
//	client, err := corvus.New("http://db1:8529,http://db2:8529",
//	    corvus.WithJWTAuth("root", "passwd"),
//	    corvus.WithResolverStrategy(corvus.StrategyRoundRobin),
//	)
//	if err != nil { log.Fatal(err) }
//	db := client.Database("orders")
//
// With multiple endpoints the client spreads requests per the resolver
// strategy and retries transport failures on other coordinators, up to
// three tries per endpoint by default. Server-reported application errors
// are never retried; they come back as *ServerError carrying the HTTP
// status and the server's error number and message.
//
// # Execution contexts
//
// Operations normally run synchronously. The same calls can be queued in
// a batch, stored as server-side async jobs, or run inside a stream
// transaction by swapping the database's executor:
//
//	batch := db.Batch()
//	orders := db.WithExecutor(batch).Collection("orders")
//	_, job, _ := orders.InsertDocument(ctx, order)
//	if err := batch.Commit(ctx); err != nil { ... }
//	resp, err := job.Result(ctx)
//
// Async jobs poll the server via Status and fetch their result exactly
// once with Result; batch jobs resolve locally when the batch commits.
// Transactions reject non-document operations client-side and close the
// handle on the first server-reported failure.
package corvus
