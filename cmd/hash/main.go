// Package main is a utility for generating bcrypt hashes of credentials. The
// CRM stores only bcrypt hashes of user passwords — never the raw values —
// so this tool is used when manually seeding or rotating a credential record
// without running the full server.
package main

import (
	"fmt"
	"os"

	"github.com/meridian-crm/meridian/internal/crypto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(1)
	}
	hash, err := crypto.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
