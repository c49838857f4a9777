package main

import "carblock-backend/cmd"

func main() {
	cmd.Run()
}
