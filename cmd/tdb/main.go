// Command tdb is TempleDB's CLI: a content-addressed blob store with a
// git-like commit/branch model, exposed through the subcommands and exit
// codes spec.md §6 defines.
package main

func main() {
	Execute()
}
