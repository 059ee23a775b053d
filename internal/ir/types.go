package ir

import (
	"encoding/json"
	"time"
)

// PushVersion is the only push protocol version the engine accepts.
const PushVersion = 1

// Actor is the already-authenticated caller a push runs as.
type Actor struct {
	// ID identifies the user. Client groups are owned by exactly one actor ID.
	ID string `json:"id"`

	// TenantID scopes invalidation channels. Optional.
	TenantID string `json:"tenant_id,omitempty"`
}

// PushRequest is a parsed, schema-validated push body.
type PushRequest struct {
	PushVersion   int        `json:"pushVersion"`
	ClientGroupID string     `json:"clientGroupID"`
	Mutations     []Mutation `json:"mutations"`
	ProfileID     string     `json:"profileID,omitempty"`
	SchemaVersion string     `json:"schemaVersion,omitempty"`
}

// Mutation is a named, client-originated state-change request.
//
// ID is the per-client sequence number. The first mutation a client ever
// sends has ID 1.
type Mutation struct {
	ID        int64           `json:"id"`
	ClientID  string          `json:"clientID"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// ClientGroup is one logical device group: every client of one sync identity.
type ClientGroup struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	CVRVersion   int64     `json:"cvr_version"`
	LastModified time.Time `json:"last_modified"`
}

// Client is one physical client inside a group, tracked by its own sequence.
type Client struct {
	ID             string    `json:"id"`
	ClientGroupID  string    `json:"client_group_id"`
	LastMutationID int64     `json:"last_mutation_id"`
	LastModified   time.Time `json:"last_modified"`
}

// NextMutationID is the only mutation id this client accepts next.
func (c Client) NextMutationID() int64 {
	return c.LastMutationID + 1
}

// DefaultClientGroup is the in-memory record used when a group does not exist yet.
// It is owned by the actor that references it first.
func DefaultClientGroup(id string, actor Actor) ClientGroup {
	return ClientGroup{
		ID:         id,
		OwnerID:    actor.ID,
		CVRVersion: 0,
	}
}

// DefaultClient is the in-memory record used when a client does not exist yet.
func DefaultClient(id, clientGroupID string) Client {
	return Client{
		ID:             id,
		ClientGroupID:  clientGroupID,
		LastMutationID: 0,
	}
}

// OrDefault resolves an optional lookup to a concrete record.
func OrDefault[T any](v T, found bool, def T) T {
	if found {
		return v
	}
	return def
}
