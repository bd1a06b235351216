// Package blockengine provides a client session for a block engine's
// validator service: it pushes the node's mempool packets to the block engine
// and receives transaction bundles from it, over a single authenticated gRPC
// connection.
//
// A Session is created with Connect. PublishMempool drives a lazy sequence of
// packets as the body of one client-streaming call. SubscribeBundles opens a
// server-streaming call and delivers every bundle to a handler from a
// background goroutine; the returned Subscription reports how the stream
// ended. Both calls carry "authorization: Bearer <token>" when the session
// was created with WithAccessToken.
//
// The session does not reconnect or retry. Callers that want either should
// call Connect, PublishMempool or SubscribeBundles again.
package blockengine
