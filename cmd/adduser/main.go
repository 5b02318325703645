package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cash := flag.String("cash", "10000.00", "starting cash balance")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: adduser [-cash AMOUNT] USERNAME PASSWORD")
		os.Exit(1)
	}
	username, password := flag.Arg(0), flag.Arg(1)

	godotenv.Load()
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}

	startCash, err := decimal.NewFromString(*cash)
	if err != nil {
		log.Fatalf("invalid cash amount: %v", err)
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	ctx := context.Background()
	var id int64
	err = db.QueryRowContext(ctx,
		`INSERT INTO users (username, hash, cash) VALUES ($1, $2, $3::numeric) RETURNING id`,
		username, string(hash), startCash.StringFixed(4)).Scan(&id)
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}

	fmt.Printf("created user %s (id %d) with %s cash\n", username, id, startCash.StringFixed(2))
}
