// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/flashcmd/flashcmd/cmd/flashcmd"

func main() {
	cmd.Execute()
}
