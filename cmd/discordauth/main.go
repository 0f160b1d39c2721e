package main

import (
	"os"

	"github.com/hitoshi/discordauth/internal/app"
)

func main() {
	os.Exit(app.Main())
}
