// Package hub implements the Signaling Hub: an authenticated, room-scoped
// router between Agents and Computers. It enforces the join rules (one
// agent per office, unique computer names), broadcasts lifecycle
// notifications, and forwards client:* requests to the target Computer.
package hub
