// Command ragctl runs ingestion and questions in-process, without the HTTP API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		os.Exit(1)
	}
}
