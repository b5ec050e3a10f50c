// Command kernvm boots the virtual memory system of a teaching kernel and runs
// workloads against it.
package main

import "github.com/sarchlab/kernvm/cmd/kernvm/cmd"

func main() {
	cmd.Execute()
}
