package main

import "github.com/ValentinKolb/hotrod/cmd"

func main() {
	cmd.Execute()
}
