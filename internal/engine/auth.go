package engine

import (
	"context"

	"github.com/onedrivesync/core/internal/accountid"
	"github.com/onedrivesync/core/internal/graph"
)

// tokenSourceAdapter adapts the engine's Authenticator boundary (spec §6) to
// graph.TokenSource. graph.Client's Token() carries no context parameter
// (it is called from deep inside retry loops where threading one through
// would ripple across the package), so the adapter captures one context at
// construction time — the same context the owning Engine's sync run is
// bound to.
type tokenSourceAdapter struct {
	ctx      context.Context
	auth     Authenticator
	hashedID accountid.HashedAccountId
}

// NewTokenSource builds a graph.TokenSource backed by auth for one account,
// bound to ctx for the lifetime of the resulting client.
func NewTokenSource(ctx context.Context, auth Authenticator, hashedID accountid.HashedAccountId) graph.TokenSource {
	return &tokenSourceAdapter{ctx: ctx, auth: auth, hashedID: hashedID}
}

func (a *tokenSourceAdapter) Token() (string, error) {
	return a.auth.GetAccessToken(a.ctx, a.hashedID)
}
