// Command stowctl is a small operator CLI around a stowdb database: it is
// additive tooling for inspecting and driving a database from outside an
// embedding program, not part of the engine's embeddable contract.
package main

import "github.com/awelon/stowdb/cmd/stowctl/cmd"

func main() {
	cmd.Execute()
}
