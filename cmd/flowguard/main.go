// Command flowguard scores network flow rows read from stdin.
package main

import (
	"context"
	"os"

	"github.com/hed1ad/flowguard/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
