// Command almctl works with an ALM server from the command line.
package main

import "github.com/mesh-intelligence/almsync/internal/cli"

func main() {
	cli.Execute()
}
