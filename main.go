package main

import (
	"github.com/axellelanca/trailtrack/cmd"
	_ "github.com/axellelanca/trailtrack/cmd/cli"
	_ "github.com/axellelanca/trailtrack/cmd/server"
)

func main() {
	cmd.Execute()
}
