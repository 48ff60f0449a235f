// Package ws implements the room-based publish/subscribe fabric at the core
// of the U-chat gateway.
//
// # Features
//
//   - Token-gated admission: origin whitelist, bearer credential negotiated
//     via the WebSocket subprotocol, per-IP and per-identity rate limits
//   - Concurrent room registry with lazy creation and exact removal when the
//     last subscriber leaves
//   - Bounded per-room fan-out: publishers never block on slow consumers,
//     the oldest buffered message is evicted on overflow and the gap is
//     surfaced to the client as a control notice
//   - One session per connection running dual forwarding loops with
//     heartbeat, write deadlines and idempotent cleanup
//   - Metrics and event hooks at every transition for external collectors
//
// # Basic Usage
//
// Create a hub and mount its upgrade handler:
//
//	hub, err := ws.NewHub(
//	    ws.WithTokenSecret(secret),
//	    ws.WithAllowedOrigins([]string{"https://example.com"}),
//	    ws.WithFanoutCapacity(100),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hub.Run()
//
//	http.HandleFunc("/ws", hub.HandleUpgrade)
//
// Clients connect with the credential in the subprotocol list:
//
//	new WebSocket("wss://gw.example.com/ws", ["bearer", token])
//
// On success the gateway answers with the "bearer" subprotocol; any admission
// failure is a bare 403 with no body detail.
//
// # Rooms
//
// The room is taken from the token's room claim when present, otherwise it
// defaults to "user:<sub>". Messages published to a room are forwarded
// verbatim, in publish order, to every current subscriber of that room and
// to no one else.
package ws
