// Nimbus - cloud operations from the command line.
// Start, stop, drain, read, classify, report. One resource at a time.
package main

func main() {
	Execute()
}
