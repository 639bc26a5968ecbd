// Command janken classifies hand gestures from a live camera feed.
package main

func main() {
	Execute()
}
