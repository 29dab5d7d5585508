package main

import "hasura_meta_reconciler/internal/cli"

func main() {
	cli.Execute()
}
