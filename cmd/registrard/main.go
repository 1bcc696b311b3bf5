package main

import (
	"log"

	"caregistrar/services/registrard"
)

func main() {
	if err := registrard.Main(); err != nil {
		log.Fatalf("registrard: %v", err)
	}
}
