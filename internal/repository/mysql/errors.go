package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/Guyuepp/videohub/domain"
	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// MySQL server error numbers we classify.
const (
	erDupEntry          = 1062
	erConCount          = 1040
	erLockWaitTimeout   = 1205
	erLockDeadlock      = 1213
	erQueryInterrupted  = 1317
	erServerShutdown    = 1053
	erOptionPreventStmt = 1290 // read-only replica during failover
)

// translate maps driver and gorm errors onto domain.StoreError. It runs once,
// here, so nothing above the repository looks at vendor codes.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StoreError{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) domain.StoreErrorKind {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.StoreNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.StoreConflict
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysqldrv.ErrInvalidConn):
		return domain.StoreTransient
	}

	var me *mysqldrv.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erDupEntry:
			return domain.StoreConflict
		case erConCount, erLockWaitTimeout, erLockDeadlock, erQueryInterrupted, erServerShutdown, erOptionPreventStmt:
			return domain.StoreTransient
		}
		return domain.StoreUnknown
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return domain.StoreTransient
	}
	return domain.StoreUnknown
}

func notFound(op string) error {
	return &domain.StoreError{Kind: domain.StoreNotFound, Op: op, Err: gorm.ErrRecordNotFound}
}
