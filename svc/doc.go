// Package svc implements named services and the request/response protocol
// that lets the host and a plugin call each other's services.
//
// A Registry maps service names to handlers. A Communicator sits on one
// ipc transport: Send turns a call into a request envelope tagged
// TagRequest and waits for the matching TagResponse, while inbound
// requests are answered by the Communicator's responder. Each request is
// identified by a random UUID correlation id and settles exactly once:
// with the peer's response, or with ErrRequestTimeout after the timeout
// window, after which a late response is silently discarded.
package svc
