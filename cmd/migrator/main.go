package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"courier/internal/storage/sqlite"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	var storagePath string
	var down bool

	flag.StringVar(&storagePath, "storage-path", "", "path to storage")
	flag.BoolVar(&down, "down", false, "roll back every migration")
	flag.Parse()

	if storagePath == "" {
		panic(errors.New("storage-path is required"))
	}

	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if down {
		if err := sqlite.Rollback(db); err != nil {
			panic(err)
		}
		fmt.Println("migrations rolled back")
		return
	}

	if err := sqlite.Migrate(db); err != nil {
		panic(err)
	}

	fmt.Println("migrations applied")
}
