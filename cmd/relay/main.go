// Relay: a multi-room websocket message server with durable room history.
// With no arguments it serves; see "relay help" for the store subcommands.
package main

import "github.com/contenox/relay/internal/relaycli"

func main() {
	relaycli.Main()
}
