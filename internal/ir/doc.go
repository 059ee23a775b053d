// Package ir defines the row and wire types shared by every replipush package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Mutation args stay raw JSON until a handler decodes them
//   - Mutation ids are per-client, 1-based and strictly sequential
//   - A client group's owner and a client's group never change once persisted
//   - Wire JSON tags follow the Replicache push format (clientGroupID, clientID)
package ir
