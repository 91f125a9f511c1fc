package main

import (
	"fmt"

	_ "github.com/agentuity/go-guard/abuse"
	_ "github.com/agentuity/go-guard/cache"
	_ "github.com/agentuity/go-guard/config"
	_ "github.com/agentuity/go-guard/env"
	_ "github.com/agentuity/go-guard/guard"
	_ "github.com/agentuity/go-guard/logger"
	_ "github.com/agentuity/go-guard/ratelimit"
	_ "github.com/agentuity/go-guard/resilience"
	_ "github.com/agentuity/go-guard/store"
	_ "github.com/agentuity/go-guard/sys"
	_ "github.com/agentuity/go-guard/telemetry"
	_ "github.com/agentuity/go-guard/tui"
)

func main() {
	fmt.Println("go-guard: run cmd/guardctl")
}
