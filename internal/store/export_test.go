package store

import (
	"context"
)

type (
	DBClient     = dbClient
	DBCollection = dbCollection
)

// WithNewClient overrides the default new client function.
func WithNewClient(newClient func(ctx context.Context, uri, dbName string) (dbClient, error)) Options {
	return func(o *options) {
		o.newClient = newClient
	}
}
