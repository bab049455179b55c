package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"palisade/activitypub"
	"palisade/db"
	"palisade/domain"
	"palisade/util"
	"palisade/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(util.GetNameAndVersion())
	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Info("Running database migrations")
	database := db.GetDB()
	if err := database.RunMigrations(); err != nil {
		log.Warn("Migration errors (may be normal if tables exist)", "err", err)
	}

	ensureLocalAccount(database)

	activitypub.RegisterHandlers()
	activitypub.StartDeliveryWorker(conf)

	resolver := activitypub.NewResolver(database, conf.Conf.Domain)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, resolver); err != nil {
			log.Fatal(err)
		}
	}()

	<-done
	log.Info("Stopping server")
}

// ensureLocalAccount creates the server's primary account on first start.
// The username comes from PALISADE_USER and defaults to "admin".
func ensureLocalAccount(database *db.DB) {
	username := os.Getenv("PALISADE_USER")
	if username == "" {
		username = "admin"
	}

	if err, _ := database.ReadAccByUsername(username); err == nil {
		return
	}

	keys := util.GeneratePemKeypair()
	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		CreatedAt:     time.Now(),
		WebPublicKey:  keys.Public,
		WebPrivateKey: keys.Private,
	}
	if err := database.CreateAccount(acc); err != nil {
		log.Fatal(err)
	}
	log.Info("Created local account", "username", username)
}
