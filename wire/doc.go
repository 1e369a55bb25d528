// Package wire is the websocket transport for paramtree sessions: a client
// implementing the Session interface and a server hosting any Session
// implementation. Frames are JSON, requests correlate to responses by ulid
// id, and subscriptions push updates tagged with their subscription id.
// Connections optionally authenticate with a JWT bearer token before any
// other frame.
package wire
