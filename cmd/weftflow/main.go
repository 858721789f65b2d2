// Command weftflow is the CLI entrypoint.
package main

import "weftflow/internal/cmd"

func main() {
	cmd.Execute()
}
