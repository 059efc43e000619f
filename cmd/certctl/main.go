package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// certctl computes fingerprints offline and reads the certificate registry.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("certctl failed")
		os.Exit(1)
	}
}
