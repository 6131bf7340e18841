package main

import (
	"log"

	"loyalty-ledger/internal/app"
)

func main() {
	w, err := app.NewWorker()
	if err != nil {
		log.Fatal("error creating a worker instance: ", err)
	}

	if err := w.Run(); err != nil {
		log.Fatal("worker stopped with error: ", err)
	}
}
