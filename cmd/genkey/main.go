package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Generates a random admin key, its bcrypt hash for ADMIN_KEY_HASH, and a
// CRED_SECRET for sealing the credential file. Pass an existing key as the
// only argument to hash that key instead.
func main() {
	var key string
	hashOnly := len(os.Args) > 1
	if hashOnly {
		key = os.Args[1]
	} else {
		key = randomSecret()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Admin key:      %s\n", key)
	fmt.Printf("ADMIN_KEY_HASH: %s\n", hash)
	if !hashOnly {
		fmt.Printf("CRED_SECRET:    %s\n", randomSecret())
	}
}

func randomSecret() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
