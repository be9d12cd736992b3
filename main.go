package main

import (
	"github.com/wardlow/casekeeper/cmd"
)

func main() {
	cmd.Execute()
}
