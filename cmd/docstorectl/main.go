// Command docstorectl reads, writes and watches documents in the configured
// store and serves the management endpoints.
package main

import "github.com/nimburion/docstore/pkg/cli"

func main() {
	cli.Execute(cli.NewCommand(cli.CommandOptions{
		Name:        "docstorectl",
		Description: "Inspect and operate docstore collections",
		EnvPrefix:   "DOCSTORE",
	}))
}
