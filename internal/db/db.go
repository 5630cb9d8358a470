package db

import (
	"fmt"
	"log"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the database for the configured driver and retries while the
// server is still starting up. It exits the process when every attempt fails.
func Connect(driver, dsn string) *gorm.DB {
	gdb, err := Open(driver, dsn, 8, 2*time.Second)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	return gdb
}

func Open(driver, dsn string, attempts int, sleep time.Duration) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = gormsqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q", driver)
	}

	var last error
	for i := 1; i <= attempts; i++ {
		gdb, err := gorm.Open(dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			sqlDB, e := gdb.DB()
			if e == nil {
				if e = sqlDB.Ping(); e == nil {
					if driver == "sqlite" {
						// one writer at a time, avoids SQLITE_BUSY under concurrent sessions
						sqlDB.SetMaxOpenConns(1)
					} else {
						sqlDB.SetMaxOpenConns(40)
						sqlDB.SetMaxIdleConns(10)
						sqlDB.SetConnMaxLifetime(30 * time.Minute)
					}
					return gdb, nil
				}
			}
			last = e
		} else {
			last = err
		}
		log.Printf("[db] open attempt=%d/%d driver=%s err=%v", i, attempts, driver, last)
		if i == attempts {
			break
		}
		time.Sleep(sleep)
		if sleep < 8*time.Second {
			sleep *= 2
		}
	}
	return nil, last
}
