// Command relaygo relays stdin lines to a chat channel, rotating credentials.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
