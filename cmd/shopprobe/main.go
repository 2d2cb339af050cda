// Command shopprobe discovers live shops by probing candidate names against
// a catalog endpoint and harvesting their product listings.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "shopprobe: %v\n", err)
		os.Exit(1)
	}
}
