// SPDX-License-Identifier: MPL-2.0

// Command buildmc builds Minecraft data and resource packs.
package main

import cmd "codeberg.org/helmo2019/buildmc/cmd/buildmc"

func main() {
	cmd.Execute()
}
