package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
)

// Mints an operator JWT for the sync API. Intended for local development
// and support tooling; production tokens come from the auth service.
func main() {
	tenantId := flag.String("tenant", "", "tenant id the token acts for")
	role := flag.String("role", "operator", "role claim (operator or admin)")
	username := flag.String("username", "ops@local", "subject claim")
	flag.Parse()

	if *tenantId == "" {
		fmt.Fprintln(os.Stderr, "usage: mint-operator-token -tenant <id> [-role admin] [-username who]")
		os.Exit(2)
	}

	token, err := utils.JwtGenerate(*tenantId, *role, *username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
