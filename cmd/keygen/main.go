// Command keygen hashes API-key secrets for provisioning. The printed hash
// goes into the auth.api_keys config section as secret_hash.
package main

import (
	"fmt"
	"os"

	"github.com/okuzmin/vectorize-api/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: keygen <secret> [<secret>...]")
		os.Exit(2)
	}

	for _, secret := range os.Args[1:] {
		hash, err := auth.HashSecret(secret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error hashing secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret: %s\nHash: %s\n\n", secret, hash)
	}
}
