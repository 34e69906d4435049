// Command friday orchestrates generated code over a task graph.
package main

func main() {
	Execute()
}
