package main

import (
	"log"

	"spinfm/cmd"
)

func main() {
	cmd.Execute()
	// If the command failed, Execute() has already called os.Exit.
	log.Println("Application command execution finished or server started.")
}
