package main

import "wesal-sync-backend/cmd"

func main() {
	cmd.Run()
}
