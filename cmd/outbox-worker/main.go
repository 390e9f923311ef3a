package main

import (
	"os"

	"github.com/mycelian/mycelian-chat/outboxworker"
)

func main() {
	if err := outboxworker.Run(); err != nil {
		os.Exit(1)
	}
}
