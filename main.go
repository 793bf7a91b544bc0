package main

import (
	"github.com/BioHazard786/Warpcall/cmd"
	"github.com/BioHazard786/Warpcall/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
