/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package main

import "github.com/krobus00/futures-engine/cmd"

func main() {
	cmd.Execute()
}
