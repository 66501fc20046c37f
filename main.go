package main

import "github.com/andresmejia3/facefilter/cmd"

func main() {
	cmd.Execute()
}
