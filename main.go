package main

import (
	"github.com/ColonelBlimp/morselink/cmd"
	"github.com/ColonelBlimp/morselink/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
