// The main package for the crawl-ingest executable.
package main

import "github.com/JakeFAU/crawl-ingest/cmd"

func main() {
	cmd.Execute()
}
