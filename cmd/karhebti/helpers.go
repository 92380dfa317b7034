package main

import (
	"fmt"
	"os"

	karhebti "github.com/karhebti/karhebti-go"
)

// getClient creates a Karhebti client authenticated with the stored token.
func getClient() *karhebti.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'karhebti init <token>' first.")
		os.Exit(1)
	}

	var opts []karhebti.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, karhebti.WithBaseURL(cfg.Default.BaseURL))
	}

	return karhebti.NewClient(karhebti.StaticToken(cfg.Auth.Token), opts...)
}
