// Package main provides the tradeagent CLI.
package main

func main() {
	Execute()
}
