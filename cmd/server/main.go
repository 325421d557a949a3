package main

import (
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
