// Package database owns the SQLite connection behind the account store.
//
// It opens the database with foreign keys on, WAL journaling and immediate
// transactions, applies the embedded schema migrations and offers RunInTx
// for multi-statement units of work.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql and are registered by the migrations package.
package database
