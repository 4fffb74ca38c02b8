package main

import (
	"os"

	"horse.fit/svergie/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
