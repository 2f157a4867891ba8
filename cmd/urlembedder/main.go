// Package main wires together the url-embedder service binary.
package main

func main() {
	Execute()
}
