// Command line wallet for the aurum network.
package main

import "github.com/aurumchain/aurum/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
