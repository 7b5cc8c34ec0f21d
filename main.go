package main

import "github.com/glothriel/airlink/pkg/cmd"

func main() {
	cmd.Run()
}
