// SPDX-License-Identifier: MPL-2.0

package main

import cmd "stager-cli/cmd/stager"

func main() {
	cmd.Execute()
}
