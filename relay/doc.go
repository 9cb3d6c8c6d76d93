// Package relay implements the websocket signaling relay that backs
// signaling.WebsocketTransport. It is a plain room fanout: clients join one
// room per connection, and every signal frame is forwarded to the other
// members of that room. The relay never inspects envelope payloads and
// keeps no history, so delivery is best effort.
package relay
