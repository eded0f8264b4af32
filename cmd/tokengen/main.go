// tokengen mints a development identity token for a caller id. The signing
// secret comes from SALUS_AUTH_SECRET, same as the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"salus.clinic/internal/tenancy"
)

func main() {
	log.SetFlags(0)
	caller := flag.String("caller", "", "caller id (token subject)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *caller == "" {
		log.Fatal("usage: tokengen -caller <id> [-ttl 24h]")
	}

	token, err := tenancy.GenerateToken(*caller, *ttl)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(token)
}
