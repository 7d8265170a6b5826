// Package ncp provides the network co-processor framing engine.
package ncp

// The engine sits between a byte oriented link (e.g. a UART) and a local
// command processor. Commands arrive as length-prefixed frames and are
// processed strictly one at a time; every command produces exactly one
// response. Responses and asynchronous events share a segmented transmit
// queue in which a number of segments are reserved for responses only, so
// a flood of events can never starve a response.
//
// Memory is fixed once the engine is created: the receive buffer holds a
// single maximum-sized command and the transmit queue is a ring of
// fixed-size segments.
//
// Producer: transport goroutines (ingest, transmit completion)
// Consumer: the dispatch loop (Engine.Run)
