// Package blockenginepb contains the message types and the gRPC service
// definition of the block engine validator protocol: a client-streaming
// StreamMempool call and a server-streaming SubscribeBundles call.
//
// The messages use the Protocol Buffers v1 message API with field tags, so
// they are encoded by the standard gRPC proto codec.
package blockenginepb
