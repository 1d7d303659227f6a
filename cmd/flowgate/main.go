package main

import "github.com/vietddude/flowgate/internal/cli"

func main() {
	cli.Execute()
}
