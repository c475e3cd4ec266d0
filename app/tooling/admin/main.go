// This program performs administrative tasks for an aurum node.
package main

import (
	"github.com/aurumchain/aurum/app/tooling/admin/commands"
)

func main() {
	commands.Execute()
}
