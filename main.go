package main

import (
	"github.com/virtualcafe/cafe/cmd"
	"github.com/virtualcafe/cafe/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
