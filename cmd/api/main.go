package main

import "github.com/onexay/swiftpkgindex/internal/cli"

func main() {
	cli.Execute()
}
