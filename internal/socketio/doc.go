// Package socketio implements the event envelope both ends of the fabric
// speak over a WebSocket: named events, optional acknowledgements
// correlated by ID, and failure acks that carry the remote handler error.
package socketio
