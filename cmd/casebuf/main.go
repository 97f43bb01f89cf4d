// Package main provides the casebuf CLI.
package main

import "github.com/mesh-intelligence/casebuffer/internal/cli"

func main() {
	cli.Execute()
}
