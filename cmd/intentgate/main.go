// Command intentgate is a policy gate and receipt issuer for agent-proposed Solana transfers.
package main

import "github.com/ppiankov/intentgate/internal/cli"

func main() {
	cli.Execute()
}
