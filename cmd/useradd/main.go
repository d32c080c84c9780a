// Command useradd provisions a player account. There is no public
// registration endpoint, so accounts are seeded from the command line.
package main

import (
	"flag"
	"log"

	"github.com/spf13/viper"

	"github.com/racetan/plinko/internal/database"
	"github.com/racetan/plinko/internal/services"
)

func main() {
	username := flag.String("username", "", "username for the new account")
	password := flag.String("password", "", "password for the new account")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -username and -password are required")
	}

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	hash, err := services.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	var id int64
	err = db.QueryRow(
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id`,
		*username, hash,
	).Scan(&id)
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}

	log.Printf("Created user %q (id=%d)", *username, id)
}
